// Package steps provides idempotent schema changes. Every step inspects the
// live schema first and skips itself when its effect is already present, so
// a migration built from steps can be re-run, or resumed after a partial run,
// without failing on objects it created earlier.
package steps

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
)

// Schema is the set of schema operations steps are built on. It is
// implemented by *dbschema.DatabaseConnection and by memschema.Schema.
type Schema interface {
	TableExists(ctx context.Context, ref types.TableRef) (bool, error)
	ReadTable(ctx context.Context, ref types.TableRef) (*types.DBTable, error)
	AddColumn(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error
	DropColumn(ctx context.Context, ref types.TableRef, column string) error
	CreateIndex(ctx context.Context, ref types.TableRef, idx types.IndexSpec) error
	DropIndex(ctx context.Context, ref types.TableRef, name string) error
	BackfillBatch(ctx context.Context, ref types.TableRef, column string, value any, batchSize int) (int64, error)
	CountNulls(ctx context.Context, ref types.TableRef, column string) (int64, error)
	SetNotNull(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error
}

// DefaultBatchSize is the number of rows updated per backfill statement.
const DefaultBatchSize = 5000

// Runner applies steps against a schema and records their outcomes.
type Runner struct {
	schema Schema
	report *Report
	logger *slog.Logger
}

// NewRunner creates a runner. A nil report or logger is replaced by a fresh
// report and slog.Default().
func NewRunner(schema Schema, report *Report, logger *slog.Logger) *Runner {
	if report == nil {
		report = &Report{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{schema: schema, report: report, logger: logger}
}

// Report returns the outcomes recorded so far.
func (r *Runner) Report() *Report {
	return r.report
}

func (r *Runner) record(res Result) {
	r.report.add(res)
	if res.Outcome == Skipped {
		r.logger.Debug("Step skipped", "step", res.Step, "object", res.Object)
		return
	}
	r.logger.Info("Step applied", "step", res.Step, "object", res.Object, "rows", res.Rows)
}

// RequireTable fails with migerr.ErrTargetMissing when the table is absent.
// It runs before any change so a missing target leaves the schema untouched.
func (r *Runner) RequireTable(ctx context.Context, ref types.TableRef) error {
	ok, err := r.schema.TableExists(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return migerr.New(migerr.ErrTargetMissing, "table "+ref.String(), nil)
	}
	return nil
}

// AddColumn adds the column unless a column with that name already exists.
func (r *Runner) AddColumn(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error {
	table, err := r.schema.ReadTable(ctx, ref)
	if err != nil {
		return err
	}
	if _, ok := table.Column(col.Name); ok {
		r.record(Result{Step: StepAddColumn, Object: col.Name, Outcome: Skipped})
		return nil
	}

	if err := r.schema.AddColumn(ctx, ref, col); err != nil {
		// a concurrent writer got there first
		if migerr.IsCollision(err) {
			r.record(Result{Step: StepAddColumn, Object: col.Name, Outcome: Skipped})
			return nil
		}
		return err
	}
	r.record(Result{Step: StepAddColumn, Object: col.Name, Outcome: Applied})
	return nil
}

// DropColumn drops the column if it exists.
func (r *Runner) DropColumn(ctx context.Context, ref types.TableRef, column string) error {
	table, err := r.schema.ReadTable(ctx, ref)
	if err != nil {
		return err
	}
	if _, ok := table.Column(column); !ok {
		r.record(Result{Step: StepDropColumn, Object: column, Outcome: Skipped})
		return nil
	}

	if err := r.schema.DropColumn(ctx, ref, column); err != nil {
		return err
	}
	r.record(Result{Step: StepDropColumn, Object: column, Outcome: Applied})
	return nil
}

// CreateIndex creates the index unless one with that name exists. An
// existing index over different columns is a fatal collision: the name is
// taken by something this migration did not create.
func (r *Runner) CreateIndex(ctx context.Context, ref types.TableRef, idx types.IndexSpec) error {
	table, err := r.schema.ReadTable(ctx, ref)
	if err != nil {
		return err
	}
	for _, col := range idx.Columns {
		if _, ok := table.Column(col); !ok {
			return migerr.Newf(migerr.ErrTargetMissing, nil, "column %s for index %s", col, idx.Name)
		}
	}

	if existing, ok := table.Index(idx.Name); ok {
		if !sameColumns(existing.Columns, idx.Columns) {
			return migerr.Newf(migerr.ErrAlreadyExists, nil,
				"index %s exists on (%s), expected (%s)", idx.Name,
				strings.Join(existing.Columns, ", "), strings.Join(idx.Columns, ", "))
		}
		r.record(Result{Step: StepCreateIndex, Object: idx.Name, Outcome: Skipped})
		return nil
	}

	if err := r.schema.CreateIndex(ctx, ref, idx); err != nil {
		return err
	}
	r.record(Result{Step: StepCreateIndex, Object: idx.Name, Outcome: Applied})
	return nil
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}

// DropIndex drops the index if it exists.
func (r *Runner) DropIndex(ctx context.Context, ref types.TableRef, name string) error {
	table, err := r.schema.ReadTable(ctx, ref)
	if err != nil {
		return err
	}
	if _, ok := table.Index(name); !ok {
		r.record(Result{Step: StepDropIndex, Object: name, Outcome: Skipped})
		return nil
	}

	if err := r.schema.DropIndex(ctx, ref, name); err != nil {
		return err
	}
	r.record(Result{Step: StepDropIndex, Object: name, Outcome: Applied})
	return nil
}

// Backfill sets value on every row where the column is NULL, batchSize rows
// per statement. Each batch only touches rows that are still NULL, so an
// interrupted backfill resumes where it stopped.
func (r *Runner) Backfill(ctx context.Context, ref types.TableRef, column string, value any, batchSize int) error {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	table, err := r.schema.ReadTable(ctx, ref)
	if err != nil {
		return err
	}
	col, ok := table.Column(column)
	if !ok {
		return migerr.Newf(migerr.ErrTargetMissing, nil, "column %s", column)
	}
	if !col.Nullable() {
		r.record(Result{Step: StepBackfill, Object: column, Outcome: Skipped})
		return nil
	}

	var total int64
	for batch := 1; ; batch++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("backfill of %s interrupted after %d rows: %w", column, total, err)
		}

		n, err := r.schema.BackfillBatch(ctx, ref, column, value, batchSize)
		if err != nil {
			return fmt.Errorf("backfill of %s failed in batch %d after %d rows: %w", column, batch, total, err)
		}
		total += n
		if n > 0 {
			r.logger.Debug("Backfilled batch", "column", column, "batch", batch, "rows", n, "total", total)
		}
		if n < int64(batchSize) {
			break
		}
	}

	outcome := Applied
	if total == 0 {
		outcome = Skipped
	}
	r.record(Result{Step: StepBackfill, Object: column, Outcome: outcome, Rows: total})
	return nil
}

// SetNotNull promotes the column to NOT NULL unless it already is. Remaining
// NULL values are reported as a data error before any change is attempted.
func (r *Runner) SetNotNull(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error {
	table, err := r.schema.ReadTable(ctx, ref)
	if err != nil {
		return err
	}
	existing, ok := table.Column(col.Name)
	if !ok {
		return migerr.Newf(migerr.ErrTargetMissing, nil, "column %s", col.Name)
	}
	if !existing.Nullable() {
		r.record(Result{Step: StepSetNotNull, Object: col.Name, Outcome: Skipped})
		return nil
	}

	nulls, err := r.schema.CountNulls(ctx, ref, col.Name)
	if err != nil {
		return err
	}
	if nulls > 0 {
		return migerr.Newf(migerr.ErrDataViolation, nil, "%d rows have NULL %s", nulls, col.Name)
	}

	if err := r.schema.SetNotNull(ctx, ref, col); err != nil {
		return err
	}
	r.record(Result{Step: StepSetNotNull, Object: col.Name, Outcome: Applied})
	return nil
}
