package dbschema

import (
	"context"
	"fmt"

	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
)

func (c *DatabaseConnection) resolve(ref types.TableRef) types.TableRef {
	if ref.Schema == "" {
		ref.Schema = c.dialect.DefaultSchema()
	}
	return ref
}

// TableExists reports whether the base table exists.
func (c *DatabaseConnection) TableExists(ctx context.Context, ref types.TableRef) (bool, error) {
	ref = c.resolve(ref)
	var count int
	if err := c.Get(ctx, &count, c.dialect.TableExistsQuery(), ref.Schema, ref.Name); err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", ref, err)
	}
	return count > 0, nil
}

// ReadTable introspects the table's columns and indexes. A missing table is
// reported as migerr.ErrTargetMissing.
func (c *DatabaseConnection) ReadTable(ctx context.Context, ref types.TableRef) (*types.DBTable, error) {
	ref = c.resolve(ref)

	table := &types.DBTable{Schema: ref.Schema, Name: ref.Name}
	if err := c.Select(ctx, &table.Columns, c.dialect.ColumnsQuery(), ref.Schema, ref.Name); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", ref, err)
	}
	if len(table.Columns) == 0 {
		return nil, migerr.New(migerr.ErrTargetMissing, "table "+ref.String(), nil)
	}

	var rows []types.IndexColumnRow
	if err := c.Select(ctx, &rows, c.dialect.IndexesQuery(), ref.Schema, ref.Name); err != nil {
		return nil, fmt.Errorf("failed to read indexes of %s: %w", ref, err)
	}
	table.Indexes = groupIndexRows(ref.Name, rows)

	return table, nil
}

// groupIndexRows folds per-column rows, ordered by index and key ordinal,
// into indexes.
func groupIndexRows(tableName string, rows []types.IndexColumnRow) []types.DBIndex {
	var indexes []types.DBIndex
	for _, row := range rows {
		n := len(indexes)
		if n == 0 || indexes[n-1].Name != row.IndexName {
			indexes = append(indexes, types.DBIndex{
				Name:      row.IndexName,
				TableName: tableName,
				IsUnique:  row.IsUnique,
				IsPrimary: row.IsPrimary,
			})
			n++
		}
		indexes[n-1].Columns = append(indexes[n-1].Columns, row.ColumnName)
	}
	return indexes
}

// ColumnExists reports whether the table has the named column.
func (c *DatabaseConnection) ColumnExists(ctx context.Context, ref types.TableRef, column string) (bool, error) {
	table, err := c.ReadTable(ctx, ref)
	if err != nil {
		return false, err
	}
	_, ok := table.Column(column)
	return ok, nil
}

// ReadIndex returns the named index, or nil when it does not exist.
func (c *DatabaseConnection) ReadIndex(ctx context.Context, ref types.TableRef, name string) (*types.DBIndex, error) {
	table, err := c.ReadTable(ctx, ref)
	if err != nil {
		return nil, err
	}
	idx, ok := table.Index(name)
	if !ok {
		return nil, nil
	}
	return idx, nil
}

func (c *DatabaseConnection) IndexExists(ctx context.Context, ref types.TableRef, name string) (bool, error) {
	idx, err := c.ReadIndex(ctx, ref, name)
	if err != nil {
		return false, err
	}
	return idx != nil, nil
}

// CountNulls counts rows where the column is NULL.
func (c *DatabaseConnection) CountNulls(ctx context.Context, ref types.TableRef, column string) (int64, error) {
	var count int64
	if err := c.Get(ctx, &count, c.dialect.CountNullsSQL(c.resolve(ref), column)); err != nil {
		return 0, fmt.Errorf("failed to count NULL %s values: %w", column, err)
	}
	return count, nil
}

func (c *DatabaseConnection) execAll(ctx context.Context, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := c.ExecuteSQL(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (c *DatabaseConnection) AddColumn(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error {
	if err := c.execAll(ctx, c.dialect.AddColumnSQL(c.resolve(ref), col)); err != nil {
		return fmt.Errorf("failed to add column %s: %w", col.Name, err)
	}
	return nil
}

// DropColumn drops the column together with any default bound to it.
func (c *DatabaseConnection) DropColumn(ctx context.Context, ref types.TableRef, column string) error {
	if err := c.execAll(ctx, c.dialect.DropColumnSQL(c.resolve(ref), column)); err != nil {
		return fmt.Errorf("failed to drop column %s: %w", column, err)
	}
	return nil
}

func (c *DatabaseConnection) CreateIndex(ctx context.Context, ref types.TableRef, idx types.IndexSpec) error {
	if _, err := c.ExecuteSQL(ctx, c.dialect.CreateIndexSQL(c.resolve(ref), idx)); err != nil {
		return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
	}
	return nil
}

func (c *DatabaseConnection) DropIndex(ctx context.Context, ref types.TableRef, name string) error {
	if _, err := c.ExecuteSQL(ctx, c.dialect.DropIndexSQL(c.resolve(ref), name)); err != nil {
		return fmt.Errorf("failed to drop index %s: %w", name, err)
	}
	return nil
}

// BackfillBatch sets value on at most batchSize rows where the column is NULL
// and returns the number of rows updated.
func (c *DatabaseConnection) BackfillBatch(ctx context.Context, ref types.TableRef, column string, value any, batchSize int) (int64, error) {
	res, err := c.ExecuteSQL(ctx, c.dialect.BackfillSQL(c.resolve(ref), column, batchSize), value)
	if err != nil {
		return 0, fmt.Errorf("failed to backfill %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read backfill row count: %w", err)
	}
	return n, nil
}

// SetNotNull promotes the column to NOT NULL. The server rejects the change
// with a data error while NULL values remain.
func (c *DatabaseConnection) SetNotNull(ctx context.Context, ref types.TableRef, col types.ColumnSpec) error {
	if err := c.execAll(ctx, c.dialect.SetNotNullSQL(c.resolve(ref), col)); err != nil {
		return fmt.Errorf("failed to set %s NOT NULL: %w", col.Name, err)
	}
	return nil
}
