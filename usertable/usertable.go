// Package usertable holds the migration units evolving the User table: the
// activity unit (is_active, lastLoginAt, updatedAt and the role and email
// indexes) and the optional tenancy unit (tenant_id and client_id).
//
// Every unit is built from guarded steps, so it can run against a table that
// already carries part of its changes. Units are registered with the
// migrator through NewProvider, or applied directly with Apply.
package usertable

import (
	"context"
	"fmt"

	"github.com/stokaro/userschema/dbschema"
	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
	"github.com/stokaro/userschema/migration/migrator"
	"github.com/stokaro/userschema/migration/steps"
)

// Transactor is implemented by schemas that can run a unit atomically.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Migrations returns the enabled units as ledger migrations.
func Migrations(opts Options) ([]*migrator.Migration, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var migrations []*migrator.Migration
	for _, u := range units(opts) {
		migrations = append(migrations, &migrator.Migration{
			Version:     u.version,
			Description: u.description,
			Checksum:    u.checksum(opts.Table),
			Up: func(ctx context.Context, conn *dbschema.DatabaseConnection) error {
				return run(ctx, conn, opts, u.up)
			},
			Down: func(ctx context.Context, conn *dbschema.DatabaseConnection) error {
				return run(ctx, conn, opts, u.down)
			},
			NoTransaction: opts.Online,
			Optional:      u.optional,
		})
	}
	return migrations, nil
}

// Provider registers the enabled units with a migrator. Runs fail with
// ErrTargetMissing before the ledger is created when the table is absent.
type Provider struct {
	*migrator.RegisteredMigrationProvider
	table types.TableRef
}

// NewProvider returns a migration provider with the enabled units.
func NewProvider(opts Options) (*Provider, error) {
	migrations, err := Migrations(opts)
	if err != nil {
		return nil, err
	}
	return &Provider{
		RegisteredMigrationProvider: migrator.NewRegisteredMigrationProvider(migrations...),
		table:                       opts.withDefaults().Table,
	}, nil
}

// CheckPreconditions requires the target table.
func (p *Provider) CheckPreconditions(ctx context.Context, conn *dbschema.DatabaseConnection) error {
	ok, err := conn.TableExists(ctx, p.table)
	if err != nil {
		return err
	}
	if !ok {
		return migerr.New(migerr.ErrTargetMissing, "table "+p.table.String(), nil)
	}
	return nil
}

// Apply runs the up steps of every enabled unit against schema, without
// consulting the ledger. Each unit runs in its own transaction when schema
// supports them and opts.Online is not set. A re-run reports every step as
// skipped and the report as already applied.
func Apply(ctx context.Context, schema steps.Schema, opts Options) (*steps.Report, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	report := &steps.Report{}
	ctx = steps.WithReport(ctx, report)
	for _, u := range units(opts) {
		opts.Logger.Info("Applying unit", "version", u.version, "description", u.description)
		if err := inTransaction(ctx, schema, opts, func(ctx context.Context) error {
			return run(ctx, schema, opts, u.up)
		}); err != nil {
			return report, fmt.Errorf("failed to apply %s: %w", u.description, err)
		}
	}
	return report, nil
}

// Revert runs the down steps of every enabled unit, newest first.
func Revert(ctx context.Context, schema steps.Schema, opts Options) (*steps.Report, error) {
	opts = opts.withDefaults()

	report := &steps.Report{}
	ctx = steps.WithReport(ctx, report)
	list := units(opts)
	for i := len(list) - 1; i >= 0; i-- {
		u := list[i]
		opts.Logger.Info("Reverting unit", "version", u.version, "description", u.description)
		if err := inTransaction(ctx, schema, opts, func(ctx context.Context) error {
			return run(ctx, schema, opts, u.down)
		}); err != nil {
			return report, fmt.Errorf("failed to revert %s: %w", u.description, err)
		}
	}
	return report, nil
}

func inTransaction(ctx context.Context, schema steps.Schema, opts Options, fn func(ctx context.Context) error) error {
	tx, ok := schema.(Transactor)
	if !ok || opts.Online {
		return fn(ctx)
	}
	return tx.InTransaction(ctx, fn)
}

// run checks the target table and executes actions in order. Outcomes are
// recorded to the report carried by ctx when there is one.
func run(ctx context.Context, schema steps.Schema, opts Options, actions []action) error {
	r := steps.NewRunner(schema, steps.ReportFromContext(ctx), opts.Logger)
	if err := r.RequireTable(ctx, opts.Table); err != nil {
		return err
	}

	for _, a := range actions {
		if err := execute(ctx, r, opts, a); err != nil {
			return err
		}
	}
	return nil
}

func execute(ctx context.Context, r *steps.Runner, opts Options, a action) error {
	switch a.step {
	case steps.StepAddColumn:
		return r.AddColumn(ctx, opts.Table, a.column)
	case steps.StepDropColumn:
		return r.DropColumn(ctx, opts.Table, a.column.Name)
	case steps.StepBackfill:
		return r.Backfill(ctx, opts.Table, a.column.Name, a.value, opts.BatchSize)
	case steps.StepSetNotNull:
		return r.SetNotNull(ctx, opts.Table, a.column)
	case steps.StepCreateIndex:
		return r.CreateIndex(ctx, opts.Table, a.index)
	case steps.StepDropIndex:
		return r.DropIndex(ctx, opts.Table, a.index.Name)
	default:
		return migerr.Newf(migerr.ErrUnsupported, nil, "step %q", a.step)
	}
}

var (
	_ steps.Schema            = (*dbschema.DatabaseConnection)(nil)
	_ migrator.Preconditioner = (*Provider)(nil)
)

