// Package mysql implements the MySQL and MariaDB dialects.
package mysql

import (
	"fmt"
	"strings"

	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/dbschema/types"
)

var (
	_ types.Dialect        = (*Dialect)(nil)
	_ types.ScriptRenderer = (*MariaDBDialect)(nil)
)

// Dialect renders MySQL specific SQL
type Dialect struct {
	name string
}

// New creates a new MySQL dialect
func New() *Dialect {
	return &Dialect{name: platform.MySQL}
}

func (d *Dialect) Name() string {
	return d.name
}

// DefaultSchema is empty: unqualified tables resolve against the connection's database.
func (d *Dialect) DefaultSchema() string {
	return ""
}

func (d *Dialect) QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Dialect) QualifiedName(ref types.TableRef) string {
	if ref.Schema == "" {
		return d.QuoteIdent(ref.Name)
	}
	return d.QuoteIdent(ref.Schema) + "." + d.QuoteIdent(ref.Name)
}

func (d *Dialect) VersionQuery() string {
	return "SELECT VERSION()"
}

func (d *Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ? AND TABLE_TYPE = 'BASE TABLE'`
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
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION`
}

func (d *Dialect) IndexesQuery() string {
	return `SELECT
			INDEX_NAME AS index_name,
			COLUMN_NAME AS column_name,
			SEQ_IN_INDEX AS key_ordinal,
			NON_UNIQUE = 0 AS is_unique,
			INDEX_NAME = 'PRIMARY' AS is_primary
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX`
}

func (d *Dialect) columnType(col types.ColumnSpec) string {
	switch col.Type {
	case types.Bool:
		return "TINYINT(1)"
	case types.Timestamp:
		return "DATETIME(6)"
	case types.String:
		if col.Length <= 0 {
			return "TEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", col.Length)
	default:
		return "TEXT"
	}
}

func (d *Dialect) literal(v any) string {
	switch val := v.(type) {
	case bool:
		if val {
			return "1"
		}
		return "0"
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	default:
		s := strings.ReplaceAll(fmt.Sprint(val), `\`, `\\`)
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}
}

func (d *Dialect) columnDefinition(col types.ColumnSpec) string {
	def := d.QuoteIdent(col.Name) + " " + d.columnType(col)
	if col.Nullable {
		def += " NULL"
	} else {
		def += " NOT NULL"
	}
	if col.Default != nil {
		def += " DEFAULT " + d.literal(col.Default)
	}
	return def
}

func (d *Dialect) AddColumnSQL(ref types.TableRef, col types.ColumnSpec) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.QualifiedName(ref), d.columnDefinition(col)),
	}
}

func (d *Dialect) DropColumnSQL(ref types.TableRef, column string) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.QualifiedName(ref), d.QuoteIdent(column)),
	}
}

func (d *Dialect) indexColumns(idx types.IndexSpec) string {
	quoted := make([]string, len(idx.Columns))
	for i, col := range idx.Columns {
		quoted[i] = d.QuoteIdent(col)
	}
	return strings.Join(quoted, ", ")
}

func (d *Dialect) CreateIndexSQL(ref types.TableRef, idx types.IndexSpec) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QualifiedName(ref), d.indexColumns(idx))
}

func (d *Dialect) DropIndexSQL(ref types.TableRef, name string) string {
	return fmt.Sprintf("DROP INDEX %s ON %s", d.QuoteIdent(name), d.QualifiedName(ref))
}

func (d *Dialect) BackfillSQL(ref types.TableRef, column string, batchSize int) string {
	col := d.QuoteIdent(column)
	return fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s IS NULL LIMIT %d", d.QualifiedName(ref), col, col, batchSize)
}

// SetNotNullSQL restates the full column definition, as MODIFY COLUMN requires.
func (d *Dialect) SetNotNullSQL(ref types.TableRef, col types.ColumnSpec) []string {
	col.Nullable = false
	return []string{
		fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.QualifiedName(ref), d.columnDefinition(col)),
	}
}

func (d *Dialect) CountNullsSQL(ref types.TableRef, column string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", d.QualifiedName(ref), d.QuoteIdent(column))
}

// MariaDBDialect extends the MySQL dialect with the IF [NOT] EXISTS DDL
// clauses MariaDB supports, which makes guarded scripts possible.
type MariaDBDialect struct {
	*Dialect
}

// NewMariaDB creates a new MariaDB dialect
func NewMariaDB() *MariaDBDialect {
	return &MariaDBDialect{Dialect: &Dialect{name: platform.MariaDB}}
}

func (d *MariaDBDialect) BatchSeparator() string {
	return ";"
}

func (d *MariaDBDialect) GuardedAddColumnSQL(ref types.TableRef, col types.ColumnSpec) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s", d.QualifiedName(ref), d.columnDefinition(col))
}

func (d *MariaDBDialect) GuardedDropColumnSQL(ref types.TableRef, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", d.QualifiedName(ref), d.QuoteIdent(column))
}

func (d *MariaDBDialect) GuardedCreateIndexSQL(ref types.TableRef, idx types.IndexSpec) string {
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, d.QuoteIdent(idx.Name), d.QualifiedName(ref), d.indexColumns(idx))
}

func (d *MariaDBDialect) GuardedDropIndexSQL(ref types.TableRef, name string) string {
	return fmt.Sprintf("DROP INDEX IF EXISTS %s ON %s", d.QuoteIdent(name), d.QualifiedName(ref))
}

// GuardedSetNotNullSQL relies on MODIFY COLUMN being repeatable.
func (d *MariaDBDialect) GuardedSetNotNullSQL(ref types.TableRef, col types.ColumnSpec) string {
	return d.SetNotNullSQL(ref, col)[0]
}

func (d *MariaDBDialect) BackfillScriptSQL(ref types.TableRef, column string, value any, _ int) string {
	col := d.QuoteIdent(column)
	return fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL", d.QualifiedName(ref), col, d.literal(value), col)
}
