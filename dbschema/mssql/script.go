package mssql

import (
	"fmt"

	"github.com/stokaro/userschema/dbschema/types"
)

// BatchSeparator ends every guarded unit with a GO line: a column added in one
// batch cannot be referenced by statements compiled in the same batch.
func (d *Dialect) BatchSeparator() string {
	return "\nGO"
}

func (d *Dialect) objectLiteral(ref types.TableRef) string {
	return d.literal(d.QualifiedName(ref))
}

func (d *Dialect) GuardedAddColumnSQL(ref types.TableRef, col types.ColumnSpec) string {
	return fmt.Sprintf("IF COL_LENGTH(%s, %s) IS NULL\n    %s;",
		d.objectLiteral(ref), d.literal(col.Name), d.AddColumnSQL(ref, col)[0])
}

func (d *Dialect) GuardedDropColumnSQL(ref types.TableRef, column string) string {
	stmts := d.DropColumnSQL(ref, column)
	return fmt.Sprintf("IF COL_LENGTH(%s, %s) IS NOT NULL\nBEGIN\n%s\n%s;\nEND",
		d.objectLiteral(ref), d.literal(column), stmts[0], stmts[1])
}

func (d *Dialect) GuardedCreateIndexSQL(ref types.TableRef, idx types.IndexSpec) string {
	return fmt.Sprintf("IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE object_id = OBJECT_ID(%s) AND name = %s)\n    %s;",
		d.objectLiteral(ref), d.literal(idx.Name), d.CreateIndexSQL(ref, idx))
}

func (d *Dialect) GuardedDropIndexSQL(ref types.TableRef, name string) string {
	return fmt.Sprintf("IF EXISTS (SELECT 1 FROM sys.indexes WHERE object_id = OBJECT_ID(%s) AND name = %s)\n    %s;",
		d.objectLiteral(ref), d.literal(name), d.DropIndexSQL(ref, name))
}

func (d *Dialect) GuardedSetNotNullSQL(ref types.TableRef, col types.ColumnSpec) string {
	return fmt.Sprintf("IF EXISTS (SELECT 1 FROM sys.columns WHERE object_id = OBJECT_ID(%s) AND name = %s AND is_nullable = 1)\n    %s;",
		d.objectLiteral(ref), d.literal(col.Name), d.SetNotNullSQL(ref, col)[0])
}

// BackfillScriptSQL loops over batches until no NULL rows remain, so each
// UPDATE holds its locks only for one batch.
func (d *Dialect) BackfillScriptSQL(ref types.TableRef, column string, value any, batchSize int) string {
	col := d.QuoteIdent(column)
	return fmt.Sprintf(`WHILE 1 = 1
BEGIN
    UPDATE TOP (%d) %s SET %s = %s WHERE %s IS NULL;
    IF @@ROWCOUNT = 0 BREAK;
END`, batchSize, d.QualifiedName(ref), col, d.literal(value), col)
}
