package postgres

import (
	"fmt"

	"github.com/stokaro/userschema/dbschema/types"
)

func (d *Dialect) BatchSeparator() string {
	return ";"
}

func (d *Dialect) GuardedAddColumnSQL(ref types.TableRef, col types.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", d.QualifiedName(ref), d.columnDefinition(col))
}

func (d *Dialect) GuardedDropColumnSQL(ref types.TableRef, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", d.QualifiedName(ref), d.QuoteIdent(column))
}

func (d *Dialect) GuardedCreateIndexSQL(ref types.TableRef, idx types.IndexSpec) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QualifiedName(ref), d.indexColumns(idx))
}

func (d *Dialect) GuardedDropIndexSQL(ref types.TableRef, name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s", d.qualifiedIndex(ref, name))
}

// GuardedSetNotNullSQL needs no guard: SET NOT NULL on a NOT NULL column is a no-op.
func (d *Dialect) GuardedSetNotNullSQL(ref types.TableRef, col types.ColumnSpec) string {
	return d.SetNotNullSQL(ref, col)[0]
}

// BackfillScriptSQL renders a single UPDATE. Plain SQL cannot commit between
// batches, so batching is left to the migration runner.
func (d *Dialect) BackfillScriptSQL(ref types.TableRef, column string, value any, _ int) string {
	col := d.QuoteIdent(column)
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", d.QualifiedName(ref), col, d.literal(value), col)
}
