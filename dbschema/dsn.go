package dbschema

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	gomysql "github.com/go-sql-driver/mysql"

	"github.com/stokaro/userschema/core/platform"
)

const (
	poolMaxConnsParam = "pool_max_conns"
	poolMinConnsParam = "pool_min_conns"
)

// dataSource is a connection URL resolved to a database/sql driver.
type dataSource struct {
	dialect  string // canonical dialect name
	driver   string // database/sql driver name
	dsn      string // what the driver receives
	redacted string // safe to log
	maxConns int    // from pool_max_conns, 0 if absent
	minConns int    // from pool_min_conns, 0 if absent
}

// parseDataSource resolves URLs, SQLAlchemy style URLs (mssql+pyodbc://...)
// and SQL Server ADO/ODBC connection strings.
func parseDataSource(dbURL string) (*dataSource, error) {
	dbURL = strings.TrimSpace(dbURL)
	if dbURL == "" {
		return nil, fmt.Errorf("database URL is empty")
	}

	scheme, rest, hasScheme := strings.Cut(dbURL, "://")
	if !hasScheme {
		if strings.Contains(dbURL, "=") {
			return sqlServerFromADO(dbURL)
		}
		return nil, fmt.Errorf("unsupported database URL %q", redactURL(dbURL))
	}

	// SQLAlchemy URLs carry the Python driver after a plus sign.
	base, _, _ := strings.Cut(strings.ToLower(scheme), "+")

	switch base {
	case "sqlserver":
		return sqlServerFromURL("sqlserver://"+rest, false)
	case "mssql":
		// SQLAlchemy puts the database in the path, go-mssqldb the instance.
		return sqlServerFromURL("sqlserver://"+rest, true)
	case "postgres", "postgresql":
		return postgresFromURL("postgres://" + rest)
	case "mysql", "mariadb":
		return mysqlFromURL(base, "mysql://"+rest)
	default:
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	}
}

func sqlServerFromURL(rawURL string, pathIsDatabase bool) (*dataSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid SQL Server URL: %w", err)
	}

	q := u.Query()
	if odbc := q.Get("odbc_connect"); odbc != "" {
		return sqlServerFromADO(odbc)
	}
	// The ODBC driver name is meaningless to a native TDS driver.
	q.Del("driver")

	if db := strings.TrimPrefix(u.Path, "/"); pathIsDatabase && db != "" && q.Get("database") == "" {
		q.Set("database", db)
		u.Path = ""
	}
	for key, values := range q {
		for i, v := range values {
			values[i] = odbcBool(v)
		}
		q[key] = values
	}
	u.RawQuery = q.Encode()

	return &dataSource{
		dialect:  platform.SQLServer,
		driver:   "sqlserver",
		dsn:      u.String(),
		redacted: u.Redacted(),
	}, nil
}

// adoKeys maps ODBC keyword spellings onto the ones go-mssqldb understands.
var adoKeys = map[string]string{
	"uid":             "user id",
	"user":            "user id",
	"pwd":             "password",
	"initial catalog": "database",
	"data source":     "server",
	"address":         "server",
	"addr":            "server",
}

// sqlServerFromADO rewrites an ADO/ODBC connection string into the odbc:
// form of go-mssqldb, which keeps braced values intact.
func sqlServerFromADO(conn string) (*dataSource, error) {
	pairs, err := splitODBC(conn)
	if err != nil {
		return nil, err
	}

	var parts, redacted []string
	add := func(key, value string) {
		parts = append(parts, key+"="+quoteODBC(value))
		if key == "password" {
			value = "xxxxx"
		}
		redacted = append(redacted, key+"="+quoteODBC(value))
	}
	for _, pair := range pairs {
		key := pair[0]
		if mapped, ok := adoKeys[key]; ok {
			key = mapped
		}

		switch key {
		case "driver":
			continue
		case "server":
			host, port := splitSQLServerHost(pair[1])
			add("server", host)
			if port != "" {
				add("port", port)
			}
			continue
		}
		add(key, odbcBool(pair[1]))
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("empty SQL Server connection string")
	}

	return &dataSource{
		dialect:  platform.SQLServer,
		driver:   "sqlserver",
		dsn:      "odbc:" + strings.Join(parts, ";"),
		redacted: strings.Join(redacted, ";"),
	}, nil
}

// splitODBC returns the lower-cased keys and values of an ODBC connection
// string. A value starting with { runs to the matching }, and }} inside it
// is a literal }.
func splitODBC(conn string) ([][2]string, error) {
	var pairs [][2]string
	for i := 0; i < len(conn); {
		if c := conn[i]; c == ';' || c == ' ' || c == '\t' {
			i++
			continue
		}

		eq := strings.IndexAny(conn[i:], "=;")
		if eq < 0 || conn[i+eq] == ';' {
			seg, _, _ := strings.Cut(conn[i:], ";")
			return nil, fmt.Errorf("invalid connection string segment %q", strings.TrimSpace(seg))
		}
		key := strings.ToLower(strings.TrimSpace(conn[i : i+eq]))
		i += eq + 1
		for i < len(conn) && (conn[i] == ' ' || conn[i] == '\t') {
			i++
		}

		if i < len(conn) && conn[i] == '{' {
			var value strings.Builder
			i++
			closed := false
			for i < len(conn) {
				if conn[i] == '}' {
					if i+1 < len(conn) && conn[i+1] == '}' {
						value.WriteByte('}')
						i += 2
						continue
					}
					closed = true
					i++
					break
				}
				value.WriteByte(conn[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated braced value for %q", key)
			}
			rest, _, _ := strings.Cut(conn[i:], ";")
			if strings.TrimSpace(rest) != "" {
				return nil, fmt.Errorf("unexpected text after braced value for %q", key)
			}
			i += len(rest)
			pairs = append(pairs, [2]string{key, value.String()})
			continue
		}

		value, _, _ := strings.Cut(conn[i:], ";")
		i += len(value)
		pairs = append(pairs, [2]string{key, strings.TrimSpace(value)})
	}
	return pairs, nil
}

// quoteODBC braces values the odbc: parser would otherwise split or trim.
func quoteODBC(v string) string {
	if !strings.ContainsAny(v, ";{}=") && strings.TrimSpace(v) == v {
		return v
	}
	return "{" + strings.ReplaceAll(v, "}", "}}") + "}"
}

// splitSQLServerHost handles the ODBC "tcp:host,port" server form.
func splitSQLServerHost(server string) (host, port string) {
	server = strings.TrimPrefix(strings.TrimSpace(server), "tcp:")
	host, port, _ = strings.Cut(server, ",")
	return strings.TrimSpace(host), strings.TrimSpace(port)
}

// odbcBool converts ODBC yes/no flags to the true/false go-mssqldb expects.
func odbcBool(v string) string {
	switch strings.ToLower(v) {
	case "yes":
		return "true"
	case "no":
		return "false"
	default:
		return v
	}
}

func postgresFromURL(rawURL string) (*dataSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid PostgreSQL URL: %w", err)
	}

	ds := &dataSource{
		dialect: platform.Postgres,
		driver:  "pgx",
	}
	q := u.Query()
	if v := q.Get(poolMaxConnsParam); v != "" {
		if ds.maxConns, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", poolMaxConnsParam, err)
		}
	}
	if v := q.Get(poolMinConnsParam); v != "" {
		if ds.minConns, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", poolMinConnsParam, err)
		}
	}

	ds.dsn = removePostgresPoolParams(rawURL)
	ds.redacted = redactURL(ds.dsn)
	return ds, nil
}

// removePostgresPoolParams strips the pgxpool-only parameters, which the
// database/sql driver would otherwise send to the server as runtime settings.
func removePostgresPoolParams(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return dbURL
	}

	q := u.Query()
	if !q.Has(poolMaxConnsParam) && !q.Has(poolMinConnsParam) {
		return dbURL
	}
	q.Del(poolMaxConnsParam)
	q.Del(poolMinConnsParam)
	u.RawQuery = q.Encode()
	return u.String()
}

func mysqlFromURL(base, rawURL string) (*dataSource, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid MySQL URL: %w", err)
	}

	cfg := gomysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	cfg.ParseTime = true
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	for key, values := range u.Query() {
		if len(values) == 0 || values[0] == "" {
			continue
		}
		if cfg.Params == nil {
			cfg.Params = map[string]string{}
		}
		cfg.Params[key] = values[0]
	}

	dialect := platform.MySQL
	if base == "mariadb" {
		dialect = platform.MariaDB
	}

	return &dataSource{
		dialect:  dialect,
		driver:   "mysql",
		dsn:      cfg.FormatDSN(),
		redacted: u.Redacted(),
	}, nil
}

func redactURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "<unparseable>"
	}
	return u.Redacted()
}
