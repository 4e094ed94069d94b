package types

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// TableRef identifies a table within a schema. An empty Schema means the
// dialect's default schema (dbo, public or the current MySQL database).
type TableRef struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
}

// String returns the unquoted schema-qualified name.
func (r TableRef) String() string {
	if r.Schema == "" {
		return r.Name
	}
	return r.Schema + "." + r.Name
}

// DBTable represents a database table read through introspection
type DBTable struct {
	Schema  string     `json:"schema"`
	Name    string     `json:"name"`
	Columns []DBColumn `json:"columns"`
	Indexes []DBIndex  `json:"indexes"`
}

// Column returns the named column, matching case-insensitively as SQL Server does.
func (t *DBTable) Column(name string) (*DBColumn, bool) {
	for i := range t.Columns {
		if strings.EqualFold(t.Columns[i].Name, name) {
			return &t.Columns[i], true
		}
	}
	return nil, false
}

// Index returns the named index.
func (t *DBTable) Index(name string) (*DBIndex, bool) {
	for i := range t.Indexes {
		if strings.EqualFold(t.Indexes[i].Name, name) {
			return &t.Indexes[i], true
		}
	}
	return nil, false
}

// DBColumn represents a database column
type DBColumn struct {
	Name               string  `json:"name" db:"column_name"`
	DataType           string  `json:"data_type" db:"data_type"`
	IsNullable         string  `json:"is_nullable" db:"is_nullable"`                   // YES/NO
	ColumnDefault      *string `json:"column_default" db:"column_default"`             // Can be NULL
	CharacterMaxLength *int    `json:"character_max_length" db:"character_max_length"` // For VARCHAR, etc.
	OrdinalPosition    int     `json:"ordinal_position" db:"ordinal_position"`
}

// Nullable reports whether the column accepts NULL.
func (c DBColumn) Nullable() bool {
	return c.IsNullable != "NO"
}

// DBIndex represents a database index
type DBIndex struct {
	Name      string   `json:"name"`
	TableName string   `json:"table_name"`
	Columns   []string `json:"columns"`
	IsUnique  bool     `json:"is_unique"`
	IsPrimary bool     `json:"is_primary"`
}

// IndexColumnRow is one row of a dialect's index introspection query.
type IndexColumnRow struct {
	IndexName  string `db:"index_name"`
	ColumnName string `db:"column_name"`
	KeyOrdinal int    `db:"key_ordinal"`
	IsUnique   bool   `db:"is_unique"`
	IsPrimary  bool   `db:"is_primary"`
}

// DBInfo contains connection and metadata information
type DBInfo struct {
	Dialect string `json:"dialect"` // sqlserver, postgres, mysql, mariadb
	Version string `json:"version"`
	Schema  string `json:"schema"` // dbo, public, database name, etc.
	URL     string `json:"url"`    // database connection URL with the password redacted
}

// LogicalType is a portable column type that dialects map to native types.
type LogicalType int

const (
	Bool LogicalType = iota + 1
	Timestamp
	String
)

func (t LogicalType) String() string {
	switch t {
	case Bool:
		return "bool"
	case Timestamp:
		return "timestamp"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// ColumnSpec describes a column to be added by a migration.
type ColumnSpec struct {
	Name     string
	Type     LogicalType
	Length   int  // for String
	Nullable bool // final nullability of the column
	Default  any  // nil for no default; bool or string otherwise
}

// IndexSpec describes a secondary index to be created by a migration.
type IndexSpec struct {
	Name    string
	Columns []string
	Unique  bool
}

// Dialect renders the SQL a migration needs for one database engine and
// classifies that engine's driver errors.
type Dialect interface {
	// Name returns the canonical dialect name (see core/platform).
	Name() string
	// DefaultSchema is used when a TableRef carries no schema.
	DefaultSchema() string
	QuoteIdent(name string) string
	QualifiedName(ref TableRef) string

	// VersionQuery returns a single-row, single-column server version query.
	VersionQuery() string
	// Introspection queries use ? placeholders bound as (schema, table).
	TableExistsQuery() string
	ColumnsQuery() string
	IndexesQuery() string

	AddColumnSQL(ref TableRef, col ColumnSpec) []string
	DropColumnSQL(ref TableRef, column string) []string
	CreateIndexSQL(ref TableRef, idx IndexSpec) string
	DropIndexSQL(ref TableRef, name string) string
	// BackfillSQL updates at most batchSize rows whose column is NULL.
	// The value is bound to the single ? placeholder.
	BackfillSQL(ref TableRef, column string, batchSize int) string
	SetNotNullSQL(ref TableRef, col ColumnSpec) []string
	CountNullsSQL(ref TableRef, column string) string

	// AcquireLock takes the named advisory lock on the given session.
	AcquireLock(ctx context.Context, conn *sql.Conn, name string, timeout time.Duration) error
	ReleaseLock(ctx context.Context, conn *sql.Conn, name string) error

	// ClassifyError maps driver errors onto migerr kinds. Errors it does not
	// recognise are returned unchanged.
	ClassifyError(err error) error
}

// ScriptRenderer is implemented by dialects that can express existence
// guards in plain SQL, so a migration can be rendered as a re-runnable script.
type ScriptRenderer interface {
	GuardedAddColumnSQL(ref TableRef, col ColumnSpec) string
	GuardedDropColumnSQL(ref TableRef, column string) string
	GuardedCreateIndexSQL(ref TableRef, idx IndexSpec) string
	GuardedDropIndexSQL(ref TableRef, name string) string
	GuardedSetNotNullSQL(ref TableRef, col ColumnSpec) string
	// BackfillScriptSQL sets every NULL value of the column, in batches where
	// the dialect can loop in plain SQL.
	BackfillScriptSQL(ref TableRef, column string, value any, batchSize int) string
	// BatchSeparator is appended after every script unit (";" or a GO line).
	BatchSeparator() string
}
