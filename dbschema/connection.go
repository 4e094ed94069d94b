// Package dbschema connects to the target database and exposes the schema
// operations migration steps are built from.
package dbschema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	trmsqlx "github.com/avito-tech/go-transaction-manager/drivers/sqlx/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/dbschema/mssql"
	"github.com/stokaro/userschema/dbschema/mysql"
	"github.com/stokaro/userschema/dbschema/postgres"
	"github.com/stokaro/userschema/dbschema/types"
)

// Pool defaults: 5 idle plus 10 overflow connections, recycled hourly.
const (
	DefaultMaxOpenConns    = 15
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = time.Hour
)

// PoolOptions overrides the connection pool defaults. Zero values keep the default.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DatabaseConnection wraps a database handle with its dialect. Statements run
// inside the transaction carried by the context when there is one.
type DatabaseConnection struct {
	db        *sqlx.DB
	info      types.DBInfo
	dialect   types.Dialect
	trManager *manager.Manager
	getter    *trmsqlx.CtxGetter
}

// DialectFor returns the dialect implementation for a dialect or driver name.
func DialectFor(name string) (types.Dialect, error) {
	switch platform.NormalizeDialect(name) {
	case platform.SQLServer:
		return mssql.New(), nil
	case platform.Postgres:
		return postgres.New(), nil
	case platform.MySQL:
		return mysql.New(), nil
	case platform.MariaDB:
		return mysql.NewMariaDB(), nil
	default:
		return nil, fmt.Errorf("unsupported dialect %q", name)
	}
}

// ConnectToDatabase opens and pings a connection using the default pool settings.
func ConnectToDatabase(dbURL string) (*DatabaseConnection, error) {
	return Connect(context.Background(), dbURL, PoolOptions{})
}

// Connect opens a connection for the given URL or connection string and
// verifies it with a ping.
func Connect(ctx context.Context, dbURL string, pool PoolOptions) (*DatabaseConnection, error) {
	ds, err := parseDataSource(dbURL)
	if err != nil {
		return nil, err
	}

	dialect, err := DialectFor(ds.dialect)
	if err != nil {
		return nil, err
	}

	sqlDB, err := sql.Open(ds.driver, ds.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", ds.dialect, err)
	}

	if pool.MaxOpenConns == 0 {
		pool.MaxOpenConns = DefaultMaxOpenConns
		if ds.maxConns > 0 {
			pool.MaxOpenConns = ds.maxConns
		}
	}
	if pool.MaxIdleConns == 0 {
		pool.MaxIdleConns = DefaultMaxIdleConns
		if ds.minConns > 0 {
			pool.MaxIdleConns = ds.minConns
		}
	}
	if pool.ConnMaxLifetime == 0 {
		pool.ConnMaxLifetime = DefaultConnMaxLifetime
	}
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", ds.dialect, dialect.ClassifyError(err))
	}

	conn := NewDatabaseConnection(sqlDB, ds.driver, dialect, types.DBInfo{
		Dialect: ds.dialect,
		Schema:  dialect.DefaultSchema(),
		URL:     ds.redacted,
	})

	var version string
	if err := conn.Get(ctx, &version, dialect.VersionQuery()); err == nil {
		conn.info.Version = version
	}

	return conn, nil
}

// NewDatabaseConnection wraps an already opened handle. driverName selects
// the bind variable style used when rebinding ? placeholders.
func NewDatabaseConnection(db *sql.DB, driverName string, dialect types.Dialect, info types.DBInfo) *DatabaseConnection {
	xdb := sqlx.NewDb(db, driverName)
	if info.Dialect == "" {
		info.Dialect = dialect.Name()
	}
	return &DatabaseConnection{
		db:        xdb,
		info:      info,
		dialect:   dialect,
		trManager: manager.Must(trmsqlx.NewDefaultFactory(xdb)),
		getter:    trmsqlx.DefaultCtxGetter,
	}
}

// Info returns connection metadata
func (c *DatabaseConnection) Info() types.DBInfo {
	return c.info
}

func (c *DatabaseConnection) Dialect() types.Dialect {
	return c.dialect
}

// DB returns the underlying handle
func (c *DatabaseConnection) DB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *DatabaseConnection) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// ExecuteSQL runs a statement written with ? placeholders.
func (c *DatabaseConnection) ExecuteSQL(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.getter.DefaultTrOrDB(ctx, c.db).ExecContext(ctx, c.db.Rebind(query), args...)
	if err != nil {
		return nil, c.dialect.ClassifyError(err)
	}
	return res, nil
}

// Get scans a single row into dest.
func (c *DatabaseConnection) Get(ctx context.Context, dest any, query string, args ...any) error {
	if err := c.getter.DefaultTrOrDB(ctx, c.db).GetContext(ctx, dest, c.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return err
		}
		return c.dialect.ClassifyError(err)
	}
	return nil
}

// Select scans all rows into dest, which must be a pointer to a slice.
func (c *DatabaseConnection) Select(ctx context.Context, dest any, query string, args ...any) error {
	if err := c.getter.DefaultTrOrDB(ctx, c.db).SelectContext(ctx, dest, c.db.Rebind(query), args...); err != nil {
		return c.dialect.ClassifyError(err)
	}
	return nil
}

// InTransaction runs fn in a transaction, joining the one in ctx if present.
func (c *DatabaseConnection) InTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return c.trManager.Do(ctx, fn)
}

// Lock takes the named advisory lock on a dedicated session and returns the
// function releasing it. The session is held until unlock is called.
func (c *DatabaseConnection) Lock(ctx context.Context, name string, timeout time.Duration) (unlock func(context.Context) error, err error) {
	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reserve lock session: %w", c.dialect.ClassifyError(err))
	}

	if err := c.dialect.AcquireLock(ctx, conn, name, timeout); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return func(ctx context.Context) error {
		defer conn.Close()
		return c.dialect.ReleaseLock(ctx, conn, name)
	}, nil
}
