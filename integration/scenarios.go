// Package integration runs the User table migrations against a real
// database. Tests are skipped unless USERSCHEMA_TEST_DATABASE_URL is set.
package integration

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-extras/go-kit/must"

	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/dbschema"
	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
	"github.com/stokaro/userschema/migration/migrator"
	"github.com/stokaro/userschema/usertable"
)

// DatabaseURLEnv names the variable holding the test database URL.
const DatabaseURLEnv = "USERSCHEMA_TEST_DATABASE_URL"

// TestScenario is a self-contained run against an empty database. Scenarios
// get a populated User table unless NoTable is set; Cleanup drops everything
// they made.
type TestScenario struct {
	Name        string
	Description string
	NoTable     bool
	TestFunc    func(ctx context.Context, conn *dbschema.DatabaseConnection) error
}

// GetAllScenarios returns every scenario.
func GetAllScenarios() []TestScenario {
	return []TestScenario{
		{
			Name:        "apply_fresh_table",
			Description: "Apply both units to a populated table and verify the shape",
			TestFunc:    testApplyFreshTable,
		},
		{
			Name:        "rerun_already_applied",
			Description: "A second run reports already applied and changes nothing",
			TestFunc:    testRerunAlreadyApplied,
		},
		{
			Name:        "partially_present",
			Description: "Guards skip a column and an index created by hand",
			TestFunc:    testPartiallyPresent,
		},
		{
			Name:        "rollback_to_zero",
			Description: "Rolling back every unit restores the original table",
			TestFunc:    testRollbackToZero,
		},
		{
			Name:        "concurrent_runs",
			Description: "Concurrent runs serialize on the migration lock",
			TestFunc:    testConcurrentRuns,
		},
		{
			Name:        "target_missing",
			Description: "A missing User table fails with an environment error",
			NoTable:     true,
			TestFunc:    testTargetMissing,
		},
	}
}

func scenarioOptions() usertable.Options {
	opts := usertable.DefaultOptions()
	opts.BatchSize = 2
	opts.Tenancy = usertable.TenancyOptions{Enabled: true, DefaultTenantID: "MoI", DefaultClientID: "Cairo_Police"}
	return opts
}

func newMigrator(conn *dbschema.DatabaseConnection) *migrator.Migrator {
	return migrator.NewMigrator(conn, must.Must(usertable.NewProvider(scenarioOptions())))
}

// CreateUserTable creates the User table in its pre-migration shape with a
// few rows.
func CreateUserTable(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	d := conn.Dialect()
	q := d.QuoteIdent
	table := d.QualifiedName(usertable.DefaultTable)
	text := "VARCHAR"
	if d.Name() == platform.SQLServer {
		text = "NVARCHAR"
	}

	ddl := fmt.Sprintf("CREATE TABLE %s (%s %s(450) NOT NULL PRIMARY KEY, %s %s(256) NULL, %s %s(50) NOT NULL)",
		table, q("userId"), text, q("email"), text, q("role"), text)
	if _, err := conn.ExecuteSQL(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create User table: %w", err)
	}

	insert := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (?, ?, ?)", table, q("userId"), q("email"), q("role"))
	for i, role := range []string{"CITIZEN", "OFFICER", "ADMIN"} {
		if _, err := conn.ExecuteSQL(ctx, insert, fmt.Sprintf("u%d", i), fmt.Sprintf("u%d@example.com", i), role); err != nil {
			return fmt.Errorf("failed to insert user: %w", err)
		}
	}
	return nil
}

// Cleanup drops the User table and the migrations ledger.
func Cleanup(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	var errs []error
	for _, table := range []string{conn.Dialect().QualifiedName(usertable.DefaultTable), "schema_migrations"} {
		if _, err := conn.ExecuteSQL(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func testApplyFreshTable(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	result, err := newMigrator(conn).MigrateUp(ctx)
	if err != nil {
		return err
	}
	if len(result.Versions) != 2 {
		return fmt.Errorf("expected 2 applied migrations, got %v", result.Versions)
	}
	return usertable.Verify(ctx, conn, scenarioOptions())
}

func testRerunAlreadyApplied(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	if _, err := newMigrator(conn).MigrateUp(ctx); err != nil {
		return err
	}
	result, err := newMigrator(conn).MigrateUp(ctx)
	if err != nil {
		return err
	}
	if !result.AlreadyApplied() {
		return fmt.Errorf("expected already applied, got %q", result)
	}

	// without the ledger the guards alone make the run a no-op
	report, err := usertable.Apply(ctx, conn, scenarioOptions())
	if err != nil {
		return err
	}
	if !report.AlreadyApplied() {
		return fmt.Errorf("expected every step to be skipped, got:\n%s", report)
	}
	return nil
}

func testPartiallyPresent(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	table := usertable.DefaultTable
	roleIndex := usertable.IndexName(table, "role")
	if err := conn.AddColumn(ctx, table, usertable.LastLoginAt); err != nil {
		return err
	}
	if err := conn.CreateIndex(ctx, table, types.IndexSpec{Name: roleIndex, Columns: []string{"role"}}); err != nil {
		return err
	}

	report, err := usertable.Apply(ctx, conn, scenarioOptions())
	if err != nil {
		return err
	}
	for _, res := range report.Applied() {
		if res.Object == usertable.LastLoginAt.Name || res.Object == roleIndex {
			return fmt.Errorf("step %s %s should have been skipped", res.Step, res.Object)
		}
	}
	return usertable.Verify(ctx, conn, scenarioOptions())
}

func testRollbackToZero(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	before, err := conn.ReadTable(ctx, usertable.DefaultTable)
	if err != nil {
		return err
	}

	m := newMigrator(conn)
	if _, err := m.MigrateUp(ctx); err != nil {
		return err
	}
	if _, err := m.MigrateTo(ctx, 0); err != nil {
		return err
	}

	after, err := conn.ReadTable(ctx, usertable.DefaultTable)
	if err != nil {
		return err
	}
	if len(after.Columns) != len(before.Columns) || len(after.Indexes) != len(before.Indexes) {
		return fmt.Errorf("expected %d columns and %d indexes after rollback, got %d and %d",
			len(before.Columns), len(before.Indexes), len(after.Columns), len(after.Indexes))
	}
	version, err := m.GetCurrentVersion(ctx)
	if err != nil {
		return err
	}
	if version != 0 {
		return fmt.Errorf("expected version 0 after rollback, got %d", version)
	}
	return nil
}

func testConcurrentRuns(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	const runs = 3
	results := make([]*migrator.RunResult, runs)
	errs := make([]error, runs)

	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = newMigrator(conn).MigrateUp(ctx)
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	applied := 0
	for _, r := range results {
		if !r.AlreadyApplied() {
			applied++
		}
	}
	if applied != 1 {
		return fmt.Errorf("expected exactly one run to apply migrations, got %d", applied)
	}
	return nil
}

func testTargetMissing(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	_, err := newMigrator(conn).MigrateUp(ctx)
	if !errors.Is(err, migerr.ErrTargetMissing) {
		return fmt.Errorf("expected a target missing error, got %v", err)
	}
	if kind := migerr.KindOf(err); kind != migerr.KindEnvironment {
		return fmt.Errorf("expected an environment error, got %s", kind)
	}
	ledger, err := conn.TableExists(ctx, types.TableRef{Name: "schema_migrations"})
	if err != nil {
		return err
	}
	if ledger {
		return errors.New("the ledger was created although the target is missing")
	}
	return nil
}
