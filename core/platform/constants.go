package platform

import (
	"strings"
)

const (
	SQLServer = "sqlserver"
	Postgres  = "postgres"
	MySQL     = "mysql"
	MariaDB   = "mariadb"
)

// NormalizeDialect maps driver names and common aliases to a canonical dialect name.
// Unknown dialects yield an empty string.
func NormalizeDialect(dialect string) string {
	switch strings.ToLower(strings.TrimSpace(dialect)) {
	case "sqlserver", "mssql", "azuresql", "azure-sql":
		return SQLServer
	case "pgx", "postgresql", "postgres":
		return Postgres
	case "mysql":
		return MySQL
	case "mariadb":
		return MariaDB
	default:
		return ""
	}
}

// IsMySQLLike reports whether the dialect speaks the MySQL protocol and DDL.
func IsMySQLLike(dialect string) bool {
	d := NormalizeDialect(dialect)
	return d == MySQL || d == MariaDB
}
