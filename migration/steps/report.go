package steps

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Outcome tells whether a step changed the schema.
type Outcome int

const (
	Applied Outcome = iota + 1
	Skipped
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Step names used in results.
const (
	StepAddColumn   = "add column"
	StepDropColumn  = "drop column"
	StepCreateIndex = "create index"
	StepDropIndex   = "drop index"
	StepBackfill    = "backfill"
	StepSetNotNull  = "set not null"
)

// Result is the outcome of a single step.
type Result struct {
	Step    string  `json:"step"`
	Object  string  `json:"object"`
	Outcome Outcome `json:"outcome"`
	Rows    int64   `json:"rows,omitempty"` // backfilled rows
}

func (r Result) String() string {
	s := fmt.Sprintf("%s %s: %s", r.Step, r.Object, r.Outcome)
	if r.Rows > 0 {
		s += fmt.Sprintf(" (%d rows)", r.Rows)
	}
	return s
}

// Report collects step results. It is safe for concurrent use.
type Report struct {
	mu      sync.Mutex
	results []Result
}

func (r *Report) add(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

// Results returns a copy of the recorded results in execution order.
func (r *Report) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// Applied returns the results of steps that changed the schema.
func (r *Report) Applied() []Result {
	var applied []Result
	for _, res := range r.Results() {
		if res.Outcome == Applied {
			applied = append(applied, res)
		}
	}
	return applied
}

// AlreadyApplied reports whether steps ran and every one of them was skipped.
func (r *Report) AlreadyApplied() bool {
	results := r.Results()
	return len(results) > 0 && len(r.Applied()) == 0
}

func (r *Report) String() string {
	if r.AlreadyApplied() {
		return "already applied"
	}
	results := r.Results()
	lines := make([]string, len(results))
	for i, res := range results {
		lines[i] = res.String()
	}
	return strings.Join(lines, "\n")
}

type reportKey struct{}

// WithReport returns a context carrying the report that steps run under ctx
// should record to.
func WithReport(ctx context.Context, report *Report) context.Context {
	return context.WithValue(ctx, reportKey{}, report)
}

// ReportFromContext returns the report carried by ctx, or nil.
func ReportFromContext(ctx context.Context) *Report {
	report, _ := ctx.Value(reportKey{}).(*Report)
	return report
}
