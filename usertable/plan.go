package usertable

import (
	"fmt"
	"strings"

	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migrator"
	"github.com/stokaro/userschema/migration/steps"
)

// Unit versions. The tenancy unit is optional and may be switched on after
// later units were applied.
const (
	ActivityVersion = 20251120090000
	TenancyVersion  = 20251120091000
)

const tenancyIDLength = 100

// Column definitions in their final shape.
var (
	IsActive    = types.ColumnSpec{Name: "is_active", Type: types.Bool, Default: true}
	LastLoginAt = types.ColumnSpec{Name: "lastLoginAt", Type: types.Timestamp, Nullable: true}
	UpdatedAt   = types.ColumnSpec{Name: "updatedAt", Type: types.Timestamp, Nullable: true}
	TenantID    = types.ColumnSpec{Name: "tenant_id", Type: types.String, Length: tenancyIDLength, Nullable: true}
	ClientID    = types.ColumnSpec{Name: "client_id", Type: types.String, Length: tenancyIDLength, Nullable: true}
)

// IndexName returns IX_<table>_<column>.
func IndexName(table types.TableRef, column string) string {
	return fmt.Sprintf("IX_%s_%s", table.Name, column)
}

// action is one guarded step of a unit.
type action struct {
	step   string
	column types.ColumnSpec
	index  types.IndexSpec
	value  any
}

func (a action) object() string {
	if a.step == steps.StepCreateIndex || a.step == steps.StepDropIndex {
		return a.index.Name
	}
	return a.column.Name
}

// canonical renders the action for checksums. Backfill values are left out so
// that changing the tenancy defaults does not invalidate an applied unit.
func (a action) canonical() string {
	switch a.step {
	case steps.StepAddColumn, steps.StepSetNotNull:
		c := a.column
		return fmt.Sprintf("%s %s %s(%d) nullable=%t default=%v", a.step, c.Name, c.Type, c.Length, c.Nullable, c.Default)
	case steps.StepCreateIndex:
		return fmt.Sprintf("%s %s (%s) unique=%t", a.step, a.index.Name, strings.Join(a.index.Columns, ", "), a.index.Unique)
	default:
		return a.step + " " + a.object()
	}
}

type unit struct {
	version     int
	description string
	optional    bool
	up          []action
	down        []action
}

// checksum covers the table name only. An empty schema and the spelled-out
// dialect default address the same table.
func (u unit) checksum(table types.TableRef) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d %s\ntable %s\n", u.version, u.description, table.Name)
	for _, a := range u.up {
		b.WriteString("up " + a.canonical() + "\n")
	}
	for _, a := range u.down {
		b.WriteString("down " + a.canonical() + "\n")
	}
	return migrator.Checksum([]byte(b.String()))
}

func addColumn(col types.ColumnSpec) action {
	return action{step: steps.StepAddColumn, column: col}
}

func dropColumn(col types.ColumnSpec) action {
	return action{step: steps.StepDropColumn, column: col}
}

func backfill(col types.ColumnSpec, value any) action {
	return action{step: steps.StepBackfill, column: col, value: value}
}

func setNotNull(col types.ColumnSpec) action {
	return action{step: steps.StepSetNotNull, column: col}
}

func createIndex(table types.TableRef, column string) action {
	return action{step: steps.StepCreateIndex, index: types.IndexSpec{Name: IndexName(table, column), Columns: []string{column}}}
}

func dropIndex(table types.TableRef, column string) action {
	return action{step: steps.StepDropIndex, index: types.IndexSpec{Name: IndexName(table, column), Columns: []string{column}}}
}

// activityUnit adds is_active, lastLoginAt and updatedAt with the role and
// email indexes. is_active is added nullable, backfilled in batches and only
// then promoted, so existing rows never hold NULL once the unit completes.
func activityUnit(table types.TableRef) unit {
	staged := IsActive
	staged.Nullable = true

	return unit{
		version:     ActivityVersion,
		description: "Add user activity columns",
		up: []action{
			addColumn(staged),
			backfill(IsActive, true),
			setNotNull(IsActive),
			addColumn(LastLoginAt),
			addColumn(UpdatedAt),
			createIndex(table, "role"),
			createIndex(table, "email"),
		},
		down: []action{
			dropIndex(table, "email"),
			dropIndex(table, "role"),
			dropColumn(UpdatedAt),
			dropColumn(LastLoginAt),
			dropColumn(IsActive),
		},
	}
}

// tenancyUnit adds tenant_id and client_id. Indexes are created after the
// backfill so the backfill does not maintain them row by row.
func tenancyUnit(table types.TableRef, opts TenancyOptions) unit {
	return unit{
		version:     TenancyVersion,
		description: "Add user tenancy columns",
		optional:    true,
		up: []action{
			addColumn(TenantID),
			addColumn(ClientID),
			backfill(TenantID, opts.DefaultTenantID),
			backfill(ClientID, opts.DefaultClientID),
			createIndex(table, TenantID.Name),
			createIndex(table, ClientID.Name),
		},
		down: []action{
			dropIndex(table, ClientID.Name),
			dropIndex(table, TenantID.Name),
			dropColumn(ClientID),
			dropColumn(TenantID),
		},
	}
}

// units returns the enabled units in version order.
func units(opts Options) []unit {
	list := []unit{activityUnit(opts.Table)}
	if opts.Tenancy.Enabled {
		list = append(list, tenancyUnit(opts.Table, opts.Tenancy))
	}
	return list
}
