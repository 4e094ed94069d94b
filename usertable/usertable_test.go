package usertable_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/userschema/dbschema/memschema"
	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
	"github.com/stokaro/userschema/migration/steps"
	"github.com/stokaro/userschema/usertable"
)

var userTable = usertable.DefaultTable

func newUserSchema(rows int, opts ...memschema.Option) *memschema.Schema {
	s := memschema.New(opts...)
	s.CreateTable(userTable,
		types.ColumnSpec{Name: "id", Type: types.String, Length: 36},
		types.ColumnSpec{Name: "email", Type: types.String, Length: 255},
		types.ColumnSpec{Name: "role", Type: types.String, Length: 50},
	)
	for i := 0; i < rows; i++ {
		s.Insert(userTable, memschema.Row{"id": fmt.Sprintf("u%d", i), "email": fmt.Sprintf("u%d@example.com", i), "role": "CITIZEN"})
	}
	return s
}

func smallBatches() usertable.Options {
	opts := usertable.DefaultOptions()
	opts.BatchSize = 2
	return opts
}

func TestApply_FreshTable(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newUserSchema(5)

	report, err := usertable.Apply(ctx, s, smallBatches())
	c.Assert(err, qt.IsNil)
	c.Assert(report.AlreadyApplied(), qt.IsFalse)
	c.Assert(report.String(), qt.Equals, `add column is_active: applied
backfill is_active: applied (5 rows)
set not null is_active: applied
add column lastLoginAt: applied
add column updatedAt: applied
create index IX_User_role: applied
create index IX_User_email: applied`)

	c.Assert(usertable.Verify(ctx, s, smallBatches()), qt.IsNil)
	for _, row := range s.Rows(userTable) {
		c.Assert(row["is_active"], qt.Equals, true)
		c.Assert(row["lastLoginAt"], qt.IsNil)
		c.Assert(row["updatedAt"], qt.IsNil)
	}

	// 2 + 2 + 1 rows
	c.Assert(s.Calls(memschema.OpBackfillBatch), qt.Equals, 3)
}

func TestApply_RerunIsAlreadyApplied(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newUserSchema(3)

	_, err := usertable.Apply(ctx, s, usertable.DefaultOptions())
	c.Assert(err, qt.IsNil)
	before := s.Snapshot(userTable)

	report, err := usertable.Apply(ctx, s, usertable.DefaultOptions())
	c.Assert(err, qt.IsNil)
	c.Assert(report.AlreadyApplied(), qt.IsTrue)
	c.Assert(report.String(), qt.Equals, "already applied")
	c.Assert(s.Snapshot(userTable), qt.DeepEquals, before)
	c.Assert(s.Calls(memschema.OpAddColumn), qt.Equals, 3)
	c.Assert(s.Calls(memschema.OpCreateIndex), qt.Equals, 2)
}

func TestApply_TargetMissing(t *testing.T) {
	c := qt.New(t)
	s := memschema.New()

	_, err := usertable.Apply(context.Background(), s, usertable.DefaultOptions())
	c.Assert(errors.Is(err, migerr.ErrTargetMissing), qt.IsTrue)
	c.Assert(migerr.KindOf(err), qt.Equals, migerr.KindEnvironment)
	c.Assert(err, qt.ErrorMatches, `failed to apply Add user activity columns: table .*User.*: target missing`)
	c.Assert(s.Calls(memschema.OpAddColumn), qt.Equals, 0)
}

func TestApply_PartiallyPresent(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newUserSchema(2)
	c.Assert(s.AddColumn(ctx, userTable, usertable.IsActive), qt.IsNil)
	s.AddIndex(userTable, types.IndexSpec{Name: "IX_User_role", Columns: []string{"role"}}, false)

	report, err := usertable.Apply(ctx, s, usertable.DefaultOptions())
	c.Assert(err, qt.IsNil)

	var applied []string
	for _, res := range report.Applied() {
		applied = append(applied, res.Step+" "+res.Object)
	}
	c.Assert(applied, qt.DeepEquals, []string{
		"add column lastLoginAt",
		"add column updatedAt",
		"create index IX_User_email",
	})
	c.Assert(usertable.Verify(ctx, s, usertable.DefaultOptions()), qt.IsNil)
}

func TestApply_IndexNameTakenRollsBack(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newUserSchema(2)
	s.AddIndex(userTable, types.IndexSpec{Name: "IX_User_email", Columns: []string{"role"}}, false)
	before := s.Snapshot(userTable)

	_, err := usertable.Apply(ctx, s, usertable.DefaultOptions())
	c.Assert(errors.Is(err, migerr.ErrAlreadyExists), qt.IsTrue)
	c.Assert(s.Snapshot(userTable), qt.DeepEquals, before)
}

// Any interruption of a transactional run leaves the table untouched, and
// the next run completes the unit.
func TestApply_InterruptedRunsRecover(t *testing.T) {
	ops := []memschema.Op{
		memschema.OpTableExists,
		memschema.OpReadTable,
		memschema.OpAddColumn,
		memschema.OpBackfillBatch,
		memschema.OpCountNulls,
		memschema.OpSetNotNull,
		memschema.OpCreateIndex,
	}
	injected := errors.New("connection reset")

	for _, online := range []bool{false, true} {
		for _, op := range ops {
			for after := 0; after < 4; after++ {
				t.Run(fmt.Sprintf("online=%t/%s/after=%d", online, op, after), func(t *testing.T) {
					c := qt.New(t)
					ctx := context.Background()
					s := newUserSchema(5)
					opts := smallBatches()
					opts.Online = online
					before := s.Snapshot(userTable)
					rowsBefore := s.Rows(userTable)

					s.FailOn(op, after, injected)
					_, err := usertable.Apply(ctx, s, opts)
					if err != nil {
						c.Assert(errors.Is(err, injected), qt.IsTrue)
						if !online {
							c.Assert(s.Snapshot(userTable), qt.DeepEquals, before)
							c.Assert(s.Rows(userTable), qt.DeepEquals, rowsBefore)
						}
					}

					s.ClearFailures()
					_, err = usertable.Apply(ctx, s, opts)
					c.Assert(err, qt.IsNil)
					c.Assert(usertable.Verify(ctx, s, opts), qt.IsNil)
				})
			}
		}
	}
}

func TestApply_Tenancy(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newUserSchema(3)
	opts := usertable.DefaultOptions()
	opts.Tenancy = usertable.TenancyOptions{Enabled: true, DefaultTenantID: "default", DefaultClientID: "portal"}

	report, err := usertable.Apply(ctx, s, opts)
	c.Assert(err, qt.IsNil)
	c.Assert(usertable.Verify(ctx, s, opts), qt.IsNil)

	for _, row := range s.Rows(userTable) {
		c.Assert(row["tenant_id"], qt.Equals, "default")
		c.Assert(row["client_id"], qt.Equals, "portal")
	}

	// tenancy indexes come last, after both backfills
	results := report.Results()
	c.Assert(results[len(results)-2].Object, qt.Equals, "IX_User_tenant_id")
	c.Assert(results[len(results)-1].Object, qt.Equals, "IX_User_client_id")
	c.Assert(results[len(results)-3], qt.DeepEquals, steps.Result{Step: steps.StepBackfill, Object: "client_id", Outcome: steps.Applied, Rows: 3})
}

func TestApply_TenancyDisabled(t *testing.T) {
	c := qt.New(t)
	s := newUserSchema(1)

	_, err := usertable.Apply(context.Background(), s, usertable.DefaultOptions())
	c.Assert(err, qt.IsNil)

	table := s.Snapshot(userTable)
	_, ok := table.Column("tenant_id")
	c.Assert(ok, qt.IsFalse)
	_, ok = table.Index("IX_User_client_id")
	c.Assert(ok, qt.IsFalse)
}

func TestApply_InvalidOptions(t *testing.T) {
	c := qt.New(t)
	opts := usertable.DefaultOptions()
	opts.Tenancy.Enabled = true

	_, err := usertable.Apply(context.Background(), newUserSchema(0), opts)
	c.Assert(err, qt.ErrorMatches, "(?s)tenancy is enabled but no default tenant id is set\ntenancy is enabled but no default client id is set")
}

func TestRevert_RestoresOriginalShape(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newUserSchema(3)
	before := s.Snapshot(userTable)
	rowsBefore := s.Rows(userTable)
	opts := usertable.DefaultOptions()
	opts.Tenancy = usertable.TenancyOptions{Enabled: true, DefaultTenantID: "t", DefaultClientID: "c"}

	_, err := usertable.Apply(ctx, s, opts)
	c.Assert(err, qt.IsNil)

	report, err := usertable.Revert(ctx, s, opts)
	c.Assert(err, qt.IsNil)
	c.Assert(report.Applied(), qt.HasLen, 9)
	c.Assert(s.Snapshot(userTable), qt.DeepEquals, before)
	c.Assert(s.Rows(userTable), qt.DeepEquals, rowsBefore)

	report, err = usertable.Revert(ctx, s, opts)
	c.Assert(err, qt.IsNil)
	c.Assert(report.AlreadyApplied(), qt.IsTrue)
}

func TestVerify_ReportsProblems(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()
	s := newUserSchema(2)
	staged := usertable.IsActive
	staged.Nullable = true
	c.Assert(s.AddColumn(ctx, userTable, staged), qt.IsNil)
	s.AddIndex(userTable, types.IndexSpec{Name: "IX_User_role", Columns: []string{"email"}}, false)

	err := usertable.Verify(ctx, s, usertable.DefaultOptions())
	c.Assert(err, qt.ErrorMatches, `(?s)table .*User.* does not match the expected shape: `+
		`column is_active: nullable is true, expected false
column lastLoginAt is missing
column updatedAt is missing
index IX_User_role covers \(email\), expected \(role\)
index IX_User_email is missing
2 rows have NULL is_active`)
}
