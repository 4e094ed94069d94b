package usertable

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/steps"
)

// Verify checks that the table has the shape the enabled units produce. All
// problems found are returned joined in one error.
func Verify(ctx context.Context, schema steps.Schema, opts Options) error {
	opts = opts.withDefaults()

	table, err := schema.ReadTable(ctx, opts.Table)
	if err != nil {
		return err
	}

	var problems []error
	expectColumn := func(spec types.ColumnSpec) {
		col, ok := table.Column(spec.Name)
		if !ok {
			problems = append(problems, fmt.Errorf("column %s is missing", spec.Name))
			return
		}
		if col.Nullable() != spec.Nullable {
			problems = append(problems, fmt.Errorf("column %s: nullable is %t, expected %t", spec.Name, col.Nullable(), spec.Nullable))
		}
	}
	expectIndex := func(column string) {
		name := IndexName(opts.Table, column)
		idx, ok := table.Index(name)
		if !ok {
			problems = append(problems, fmt.Errorf("index %s is missing", name))
			return
		}
		if len(idx.Columns) != 1 || !strings.EqualFold(idx.Columns[0], column) {
			problems = append(problems, fmt.Errorf("index %s covers (%s), expected (%s)", name, strings.Join(idx.Columns, ", "), column))
		}
	}

	expectColumn(IsActive)
	expectColumn(LastLoginAt)
	expectColumn(UpdatedAt)
	expectIndex("role")
	expectIndex("email")

	if _, ok := table.Column(IsActive.Name); ok {
		nulls, err := schema.CountNulls(ctx, opts.Table, IsActive.Name)
		if err != nil {
			return err
		}
		if nulls > 0 {
			problems = append(problems, fmt.Errorf("%d rows have NULL %s", nulls, IsActive.Name))
		}
	}

	if opts.Tenancy.Enabled {
		expectColumn(TenantID)
		expectColumn(ClientID)
		expectIndex(TenantID.Name)
		expectIndex(ClientID.Name)
	}

	if len(problems) > 0 {
		return fmt.Errorf("table %s does not match the expected shape: %w", opts.Table, errors.Join(problems...))
	}
	return nil
}
