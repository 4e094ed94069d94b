// Package mssql implements the SQL Server dialect: T-SQL rendering for the
// migration steps, catalog introspection queries, sp_getapplock based locking
// and classification of go-mssqldb errors.
package mssql

import (
	"fmt"
	"strings"

	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/dbschema/types"
)

var (
	_ types.Dialect        = (*Dialect)(nil)
	_ types.ScriptRenderer = (*Dialect)(nil)
)

// Dialect renders SQL Server specific SQL
type Dialect struct{}

// New creates a new SQL Server dialect
func New() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return platform.SQLServer
}

func (d *Dialect) DefaultSchema() string {
	return "dbo"
}

// QuoteIdent quotes an identifier with brackets, escaping closing brackets.
func (d *Dialect) QuoteIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) QualifiedName(ref types.TableRef) string {
	schema := ref.Schema
	if schema == "" {
		schema = d.DefaultSchema()
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(ref.Name)
}

func (d *Dialect) VersionQuery() string {
	return "SELECT CAST(SERVERPROPERTY('ProductVersion') AS NVARCHAR(128))"
}

func (d *Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND TABLE_TYPE = 'BASE TABLE'`
}

func (d *Dialect) ColumnsQuery() string {
	return `SELECT
			COLUMN_NAME AS column_name,
			DATA_TYPE AS data_type,
			IS_NULLABLE AS is_nullable,
			COLUMN_DEFAULT AS column_default,
			CHARACTER_MAXIMUM_LENGTH AS character_max_length,
			ORDINAL_POSITION AS ordinal_position
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`
}

func (d *Dialect) IndexesQuery() string {
	return `SELECT
			i.name AS index_name,
			c.name AS column_name,
			CAST(ic.key_ordinal AS INT) AS key_ordinal,
			i.is_unique AS is_unique,
			i.is_primary_key AS is_primary
		FROM sys.indexes i
		JOIN sys.index_columns ic ON ic.object_id = i.object_id AND ic.index_id = i.index_id
		JOIN sys.columns c ON c.object_id = ic.object_id AND c.column_id = ic.column_id
		JOIN sys.tables t ON t.object_id = i.object_id
		JOIN sys.schemas s ON s.schema_id = t.schema_id
		WHERE s.name = ? AND t.name = ? AND ic.is_included_column = 0
		ORDER BY i.name, ic.key_ordinal`
}

// columnType maps a logical type onto the SQL Server type.
func (d *Dialect) columnType(col types.ColumnSpec) string {
	switch col.Type {
	case types.Bool:
		return "BIT"
	case types.Timestamp:
		return "DATETIME2"
	case types.String:
		if col.Length <= 0 {
			return "NVARCHAR(MAX)"
		}
		return fmt.Sprintf("NVARCHAR(%d)", col.Length)
	default:
		return "SQL_VARIANT"
	}
}

func (d *Dialect) literal(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "1"
		}
		return "0"
	case string:
		return "N'" + strings.ReplaceAll(val, "'", "''") + "'"
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	default:
		return "N'" + strings.ReplaceAll(fmt.Sprint(val), "'", "''") + "'"
	}
}

// DefaultConstraintName is the name given to default constraints created by
// AddColumnSQL, so that they can be found again by name.
func DefaultConstraintName(table, column string) string {
	return "DF_" + table + "_" + column
}

func (d *Dialect) columnDefinition(ref types.TableRef, col types.ColumnSpec) string {
	var b strings.Builder
	b.WriteString(d.QuoteIdent(col.Name))
	b.WriteString(" ")
	b.WriteString(d.columnType(col))
	if col.Nullable {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if col.Default != nil {
		fmt.Fprintf(&b, " CONSTRAINT %s DEFAULT %s",
			d.QuoteIdent(DefaultConstraintName(ref.Name, col.Name)), d.literal(col.Default))
	}
	return b.String()
}

func (d *Dialect) AddColumnSQL(ref types.TableRef, col types.ColumnSpec) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD %s", d.QualifiedName(ref), d.columnDefinition(ref, col)),
	}
}

// dropDefaultSQL drops whatever default constraint is bound to the column,
// whether it was named by us or generated by the server.
func (d *Dialect) dropDefaultSQL(ref types.TableRef, column string) string {
	table := d.QualifiedName(ref)
	return fmt.Sprintf(`DECLARE @df sysname = (
	SELECT dc.name FROM sys.default_constraints dc
	JOIN sys.columns c ON c.object_id = dc.parent_object_id AND c.column_id = dc.parent_column_id
	WHERE dc.parent_object_id = OBJECT_ID(%s) AND c.name = %s);
IF @df IS NOT NULL EXEC(N'ALTER TABLE %s DROP CONSTRAINT ' + QUOTENAME(@df));`,
		d.literal(table), d.literal(column), strings.ReplaceAll(table, "'", "''"))
}

func (d *Dialect) DropColumnSQL(ref types.TableRef, column string) []string {
	return []string{
		d.dropDefaultSQL(ref, column),
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QualifiedName(ref), d.QuoteIdent(column)),
	}
}

func (d *Dialect) CreateIndexSQL(ref types.TableRef, idx types.IndexSpec) string {
	quoted := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		quoted[i] = d.QuoteIdent(col)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QualifiedName(ref), strings.Join(quoted, ", "))
}

func (d *Dialect) DropIndexSQL(ref types.TableRef, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", d.QuoteIdent(name), d.QualifiedName(ref))
}

func (d *Dialect) BackfillSQL(ref types.TableRef, column string, batchSize int) string {
	col := d.QuoteIdent(column)
	return fmt.Sprintf("UPDATE TOP (%d) %s SET %s = ? WHERE %s IS NULL", batchSize, d.QualifiedName(ref), col, col)
}

func (d *Dialect) SetNotNullSQL(ref types.TableRef, col types.ColumnSpec) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s %s NOT NULL",
			d.QualifiedName(ref), d.QuoteIdent(col.Name), d.columnType(col)),
	}
}

func (d *Dialect) CountNullsSQL(ref types.TableRef, column string) string {
	col := d.QuoteIdent(column)
	return fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s WHERE %s IS NULL", d.QualifiedName(ref), col)
}
