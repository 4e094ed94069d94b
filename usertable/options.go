package usertable

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/steps"
)

// DefaultTable is the table the units evolve. Without a schema it resolves to
// the dialect default: dbo on SQL Server, public on PostgreSQL.
var DefaultTable = types.TableRef{Name: "User"}

// Options configures the migration units.
type Options struct {
	Table types.TableRef
	// BatchSize is the number of rows updated per backfill statement.
	BatchSize int
	// Online commits every backfill batch on its own instead of running the
	// unit in one transaction. Guards make an interrupted online run resumable.
	Online  bool
	Tenancy TenancyOptions
	Logger  *slog.Logger
}

// TenancyOptions switches the tenancy unit on and sets the values existing
// rows are assigned.
type TenancyOptions struct {
	Enabled         bool
	DefaultTenantID string
	DefaultClientID string
}

// DefaultOptions returns options for the User table with tenancy disabled.
func DefaultOptions() Options {
	return Options{
		Table:     DefaultTable,
		BatchSize: steps.DefaultBatchSize,
	}
}

func (o Options) withDefaults() Options {
	if o.Table.Name == "" {
		o.Table.Name = DefaultTable.Name
	}
	if o.BatchSize <= 0 {
		o.BatchSize = steps.DefaultBatchSize
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Validate reports inconsistent options.
func (o Options) Validate() error {
	var errs []error
	if o.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("batch size must be positive, got %d", o.BatchSize))
	}
	if o.Tenancy.Enabled {
		if o.Tenancy.DefaultTenantID == "" {
			errs = append(errs, errors.New("tenancy is enabled but no default tenant id is set"))
		}
		if o.Tenancy.DefaultClientID == "" {
			errs = append(errs, errors.New("tenancy is enabled but no default client id is set"))
		}
		if len(o.Tenancy.DefaultTenantID) > tenancyIDLength || len(o.Tenancy.DefaultClientID) > tenancyIDLength {
			errs = append(errs, fmt.Errorf("default tenant and client ids are limited to %d characters", tenancyIDLength))
		}
	}
	return errors.Join(errs...)
}
