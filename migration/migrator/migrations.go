package migrator

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"strings"

	"github.com/go-extras/go-kit/must"

	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/core/sqlutil"
	"github.com/stokaro/userschema/dbschema"
)

//go:embed base/*.sql
var baseFS embed.FS

var (
	getVersionSQL        = string(must.Must(baseFS.ReadFile("base/get_version.sql")))
	appliedMigrationsSQL = string(must.Must(baseFS.ReadFile("base/applied_migrations.sql")))
	recordMigrationSQL   = string(must.Must(baseFS.ReadFile("base/record_migration.sql")))
	deleteMigrationSQL   = string(must.Must(baseFS.ReadFile("base/delete_migration.sql")))
)

// migrationsSchemaSQL returns the ledger DDL for a dialect.
func migrationsSchemaSQL(dialect string) (string, error) {
	name := platform.NormalizeDialect(dialect)
	if platform.IsMySQLLike(name) {
		name = platform.MySQL
	}
	data, err := baseFS.ReadFile("base/schema_" + name + ".sql")
	if err != nil {
		return "", fmt.Errorf("no migrations table definition for dialect %q", dialect)
	}
	return string(data), nil
}

// NoTransactionDirective in the first lines of an up file makes the migration
// run outside a transaction.
const NoTransactionDirective = "-- userschema:no-transaction"

// MigrationFunc represents a migration function that operates on a database connection
type MigrationFunc func(context.Context, *dbschema.DatabaseConnection) error

// SplitSQLStatements splits a SQL string into individual statements, ignoring
// semicolons inside string literals and comments.
func SplitSQLStatements(sql string) []string {
	return sqlutil.SplitSQLStatements(sqlutil.StripComments(sql))
}

// splitForDialect splits SQL Server scripts on GO batch separators, since
// T-SQL batches may contain semicolons inside BEGIN ... END blocks. Other
// dialects are split into statements.
func splitForDialect(dialect, sql string) []string {
	if platform.NormalizeDialect(dialect) != platform.SQLServer {
		return SplitSQLStatements(sql)
	}
	return sqlutil.SplitBatches(sql)
}

// MigrationFuncFromSQLFilename returns a migration function that reads SQL from a file
// in the provided filesystem and executes it using the database connection
func MigrationFuncFromSQLFilename(filename string, fsys fs.FS) MigrationFunc {
	return func(ctx context.Context, conn *dbschema.DatabaseConnection) error {
		sql, err := fs.ReadFile(fsys, filename)
		if err != nil {
			return fmt.Errorf("failed to read migration file: %w", err)
		}

		if err := executeSQLStatements(ctx, conn, string(sql)); err != nil {
			return fmt.Errorf("failed to execute migration SQL from %s: %w", filename, err)
		}
		return nil
	}
}

// NoopMigrationFunc is a no-op migration function
func NoopMigrationFunc(_ context.Context, _ *dbschema.DatabaseConnection) error {
	return nil
}

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	// Checksum identifies the migration's content. It is stored in the ledger
	// and compared on every run; an empty checksum disables the comparison.
	Checksum string
	Up       MigrationFunc
	// Down is nil for irreversible migrations.
	Down MigrationFunc
	// NoTransaction runs Up and Down outside a transaction, for migrations
	// that commit their own batches.
	NoTransaction bool
	// Optional migrations may be applied after migrations with a higher
	// version, for units that are switched on later.
	Optional bool
}

// CreateMigrationFromSQL creates a migration from SQL strings
// This is useful for programmatically creating migrations
func CreateMigrationFromSQL(version int, description, upSQL, downSQL string) *Migration {
	upFunc := func(ctx context.Context, conn *dbschema.DatabaseConnection) error {
		return executeSQLStatements(ctx, conn, upSQL)
	}

	downFunc := func(ctx context.Context, conn *dbschema.DatabaseConnection) error {
		return executeSQLStatements(ctx, conn, downSQL)
	}

	return &Migration{
		Version:       version,
		Description:   description,
		Checksum:      Checksum([]byte(upSQL)),
		Up:            upFunc,
		Down:          downFunc,
		NoTransaction: hasNoTransactionDirective(upSQL),
	}
}

// executeSQLStatements splits SQL into individual statements and executes them
func executeSQLStatements(ctx context.Context, conn *dbschema.DatabaseConnection, sql string) error {
	for _, stmt := range splitForDialect(conn.Info().Dialect, sql) {
		if _, err := conn.ExecuteSQL(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute SQL statement: %w\nSQL: %s", err, stmt)
		}
	}
	return nil
}

func hasNoTransactionDirective(sql string) bool {
	for _, line := range strings.Split(sql, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "--") {
			return false
		}
		if strings.EqualFold(line, NoTransactionDirective) {
			return true
		}
	}
	return false
}
