// Package postgres implements the PostgreSQL dialect.
package postgres

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/dbschema/types"
)

var (
	_ types.Dialect        = (*Dialect)(nil)
	_ types.ScriptRenderer = (*Dialect)(nil)
)

// Dialect renders PostgreSQL specific SQL
type Dialect struct{}

// New creates a new PostgreSQL dialect
func New() *Dialect {
	return &Dialect{}
}

func (d *Dialect) Name() string {
	return platform.Postgres
}

func (d *Dialect) DefaultSchema() string {
	return "public"
}

func (d *Dialect) QuoteIdent(name string) string {
	return pq.QuoteIdentifier(name)
}

func (d *Dialect) QualifiedName(ref types.TableRef) string {
	schema := ref.Schema
	if schema == "" {
		schema = d.DefaultSchema()
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(ref.Name)
}

func (d *Dialect) VersionQuery() string {
	return "SHOW server_version"
}

func (d *Dialect) TableExistsQuery() string {
	return `SELECT COUNT(*) FROM information_schema.tables
		WHERE table_schema = ? AND table_name = ? AND table_type = 'BASE TABLE'`
}

func (d *Dialect) ColumnsQuery() string {
	return `SELECT
			column_name,
			data_type,
			is_nullable,
			column_default,
			character_maximum_length AS character_max_length,
			ordinal_position
		FROM information_schema.columns
		WHERE table_schema = ? AND table_name = ?
		ORDER BY ordinal_position`
}

func (d *Dialect) IndexesQuery() string {
	return `SELECT
			i.relname AS index_name,
			a.attname AS column_name,
			k.ord::int AS key_ordinal,
			ix.indisunique AS is_unique,
			ix.indisprimary AS is_primary
		FROM pg_index ix
		JOIN pg_class t ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_namespace n ON n.oid = t.relnamespace
		CROSS JOIN LATERAL unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		WHERE n.nspname = ? AND t.relname = ?
		ORDER BY i.relname, k.ord`
}

func (d *Dialect) columnType(col types.ColumnSpec) string {
	switch col.Type {
	case types.Bool:
		return "BOOLEAN"
	case types.Timestamp:
		return "TIMESTAMP"
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
			return "TRUE"
		}
		return "FALSE"
	case string:
		return pq.QuoteLiteral(val)
	case int, int32, int64:
		return fmt.Sprintf("%d", val)
	default:
		return pq.QuoteLiteral(fmt.Sprint(val))
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

// DropIndexSQL qualifies the index with the table's schema: PostgreSQL
// indexes live in the schema namespace, not under the table.
func (d *Dialect) DropIndexSQL(ref types.TableRef, name string) string {
	return fmt.Sprintf("DROP INDEX %s", d.qualifiedIndex(ref, name))
}

func (d *Dialect) qualifiedIndex(ref types.TableRef, name string) string {
	schema := ref.Schema
	if schema == "" {
		schema = d.DefaultSchema()
	}
	return d.QuoteIdent(schema) + "." + d.QuoteIdent(name)
}

// BackfillSQL bounds each batch through ctid, since UPDATE has no LIMIT.
func (d *Dialect) BackfillSQL(ref types.TableRef, column string, batchSize int) string {
	table := d.QualifiedName(ref)
	col := d.QuoteIdent(column)
	return fmt.Sprintf("UPDATE %s SET %s = ? WHERE ctid IN (SELECT ctid FROM %s WHERE %s IS NULL LIMIT %d)",
		table, col, table, col, batchSize)
}

func (d *Dialect) SetNotNullSQL(ref types.TableRef, col types.ColumnSpec) []string {
	return []string{
		fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", d.QualifiedName(ref), d.QuoteIdent(col.Name)),
	}
}

func (d *Dialect) CountNullsSQL(ref types.TableRef, column string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", d.QualifiedName(ref), d.QuoteIdent(column))
}
