package dbschema_test

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	qt "github.com/frankban/quicktest"
	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/stokaro/userschema/dbschema"
	"github.com/stokaro/userschema/dbschema/mssql"
	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
)

var userTable = types.TableRef{Name: "User"}

func newMockConnection(c *qt.C) (*dbschema.DatabaseConnection, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	c.Assert(err, qt.IsNil)
	c.Cleanup(func() {
		c.Check(mock.ExpectationsWereMet(), qt.IsNil)
		_ = db.Close()
	})
	return dbschema.NewDatabaseConnection(db, "sqlserver", mssql.New(), types.DBInfo{}), mock
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "mssql", expected: "sqlserver"},
		{input: "pgx", expected: "postgres"},
		{input: "mysql", expected: "mysql"},
		{input: "MariaDB", expected: "mariadb"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c := qt.New(t)
			d, err := dbschema.DialectFor(tt.input)
			c.Assert(err, qt.IsNil)
			c.Assert(d.Name(), qt.Equals, tt.expected)
		})
	}

	_, err := dbschema.DialectFor("sqlite")
	qt.Assert(t, err, qt.ErrorMatches, `unsupported dialect "sqlite"`)
}

func TestDatabaseConnection_Info(t *testing.T) {
	c := qt.New(t)
	conn, _ := newMockConnection(c)

	c.Assert(conn.Info().Dialect, qt.Equals, "sqlserver")
	c.Assert(conn.Dialect().DefaultSchema(), qt.Equals, "dbo")
}

func TestDatabaseConnection_TableExists(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.TABLES")).
		WithArgs("dbo", "User").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.TABLES")).
		WithArgs("dbo", "Ghost").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	ok, err := conn.TableExists(context.Background(), userTable)
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsTrue)

	ok, err = conn.TableExists(context.Background(), types.TableRef{Name: "Ghost"})
	c.Assert(err, qt.IsNil)
	c.Assert(ok, qt.IsFalse)
}

func TestDatabaseConnection_ReadTable(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	columns := sqlmock.NewRows([]string{
		"column_name", "data_type", "is_nullable", "column_default", "character_max_length", "ordinal_position",
	}).
		AddRow("id", "int", "NO", nil, nil, 1).
		AddRow("email", "nvarchar", "NO", nil, 255, 2).
		AddRow("role", "nvarchar", "NO", nil, 50, 3).
		AddRow("is_active", "bit", "YES", "((1))", nil, 4)
	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS")).
		WithArgs("dbo", "User").
		WillReturnRows(columns)

	indexes := sqlmock.NewRows([]string{"index_name", "column_name", "key_ordinal", "is_unique", "is_primary"}).
		AddRow("IX_User_email", "email", 1, false, false).
		AddRow("IX_User_role_email", "role", 1, false, false).
		AddRow("IX_User_role_email", "email", 2, false, false).
		AddRow("PK_User", "id", 1, true, true)
	mock.ExpectQuery(regexp.QuoteMeta("FROM sys.indexes")).
		WithArgs("dbo", "User").
		WillReturnRows(indexes)

	table, err := conn.ReadTable(context.Background(), userTable)
	c.Assert(err, qt.IsNil)
	c.Assert(table.Schema, qt.Equals, "dbo")
	c.Assert(table.Columns, qt.HasLen, 4)

	col, ok := table.Column("IS_ACTIVE")
	c.Assert(ok, qt.IsTrue)
	c.Assert(col.Nullable(), qt.IsTrue)
	c.Assert(*col.ColumnDefault, qt.Equals, "((1))")

	c.Assert(table.Indexes, qt.HasLen, 3)
	idx, ok := table.Index("IX_User_role_email")
	c.Assert(ok, qt.IsTrue)
	c.Assert(idx.Columns, qt.DeepEquals, []string{"role", "email"})
	pk, _ := table.Index("PK_User")
	c.Assert(pk.IsPrimary, qt.IsTrue)
}

func TestDatabaseConnection_ReadTable_Missing(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	mock.ExpectQuery(regexp.QuoteMeta("FROM INFORMATION_SCHEMA.COLUMNS")).
		WithArgs("dbo", "User").
		WillReturnRows(sqlmock.NewRows([]string{"column_name"}))

	_, err := conn.ReadTable(context.Background(), userTable)
	c.Assert(errors.Is(err, migerr.ErrTargetMissing), qt.IsTrue)
	c.Assert(migerr.KindOf(err), qt.Equals, migerr.KindEnvironment)
}

func TestDatabaseConnection_BackfillBatch(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE TOP (500) [dbo].[User] SET [is_active] = @p1 WHERE [is_active] IS NULL")).
		WithArgs(true).
		WillReturnResult(sqlmock.NewResult(0, 500))

	n, err := conn.BackfillBatch(context.Background(), userTable, "is_active", true, 500)
	c.Assert(err, qt.IsNil)
	c.Assert(n, qt.Equals, int64(500))
}

func TestDatabaseConnection_ClassifiesDriverErrors(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	mock.ExpectExec(regexp.QuoteMeta("ALTER TABLE [dbo].[User] ADD [updatedAt] DATETIME2 NULL")).
		WillReturnError(mssqldb.Error{Number: 2705, Message: "Column names in each table must be unique."})

	err := conn.AddColumn(context.Background(), userTable, types.ColumnSpec{Name: "updatedAt", Type: types.Timestamp, Nullable: true})
	c.Assert(migerr.IsCollision(err), qt.IsTrue)
	c.Assert(err, qt.ErrorMatches, "failed to add column updatedAt: already exists: .*")
}

func TestDatabaseConnection_InTransaction(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX [IX_User_role] ON [dbo].[User] ([role])")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX [IX_User_email] ON [dbo].[User] ([email])")).
		WillReturnError(mssqldb.Error{Number: 229, Message: "permission denied"})
	mock.ExpectRollback()

	err := conn.InTransaction(context.Background(), func(ctx context.Context) error {
		if err := conn.CreateIndex(ctx, userTable, types.IndexSpec{Name: "IX_User_role", Columns: []string{"role"}}); err != nil {
			return err
		}
		return conn.CreateIndex(ctx, userTable, types.IndexSpec{Name: "IX_User_email", Columns: []string{"email"}})
	})
	c.Assert(errors.Is(err, migerr.ErrPermissionDenied), qt.IsTrue)
}

func TestDatabaseConnection_Lock(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	mock.ExpectQuery(regexp.QuoteMeta("sp_getapplock")).
		WithArgs("userschema", int(5*time.Second/time.Millisecond)).
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta("sp_releaseapplock")).
		WithArgs("userschema").
		WillReturnResult(sqlmock.NewResult(0, 0))

	unlock, err := conn.Lock(context.Background(), "userschema", 5*time.Second)
	c.Assert(err, qt.IsNil)
	c.Assert(unlock(context.Background()), qt.IsNil)
}

func TestDatabaseConnection_LockTimeout(t *testing.T) {
	c := qt.New(t)
	conn, mock := newMockConnection(c)

	mock.ExpectQuery(regexp.QuoteMeta("sp_getapplock")).
		WillReturnRows(sqlmock.NewRows([]string{"result"}).AddRow(-1))

	_, err := conn.Lock(context.Background(), "userschema", time.Second)
	c.Assert(errors.Is(err, migerr.ErrLockTimeout), qt.IsTrue)
}
