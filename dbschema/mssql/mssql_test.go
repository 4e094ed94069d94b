package mssql_test

import (
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	mssqldb "github.com/microsoft/go-mssqldb"

	"github.com/stokaro/userschema/dbschema/mssql"
	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
)

var userTable = types.TableRef{Schema: "dbo", Name: "User"}

func TestDialect_QuoteIdent(t *testing.T) {
	c := qt.New(t)
	d := mssql.New()

	c.Assert(d.QuoteIdent("User"), qt.Equals, "[User]")
	c.Assert(d.QuoteIdent("odd]name"), qt.Equals, "[odd]]name]")
	c.Assert(d.QualifiedName(userTable), qt.Equals, "[dbo].[User]")
	c.Assert(d.QualifiedName(types.TableRef{Name: "User"}), qt.Equals, "[dbo].[User]")
}

func TestDialect_DDL(t *testing.T) {
	d := mssql.New()

	tests := []struct {
		name     string
		got      []string
		expected []string
	}{
		{
			name: "nullable bool with default",
			got: d.AddColumnSQL(userTable, types.ColumnSpec{
				Name: "is_active", Type: types.Bool, Nullable: true, Default: true,
			}),
			expected: []string{"ALTER TABLE [dbo].[User] ADD [is_active] BIT NULL CONSTRAINT [DF_User_is_active] DEFAULT 1"},
		},
		{
			name:     "nullable timestamp",
			got:      d.AddColumnSQL(userTable, types.ColumnSpec{Name: "lastLoginAt", Type: types.Timestamp, Nullable: true}),
			expected: []string{"ALTER TABLE [dbo].[User] ADD [lastLoginAt] DATETIME2 NULL"},
		},
		{
			name:     "string column",
			got:      d.AddColumnSQL(userTable, types.ColumnSpec{Name: "tenant_id", Type: types.String, Length: 100, Nullable: true}),
			expected: []string{"ALTER TABLE [dbo].[User] ADD [tenant_id] NVARCHAR(100) NULL"},
		},
		{
			name:     "set not null restates the type",
			got:      d.SetNotNullSQL(userTable, types.ColumnSpec{Name: "is_active", Type: types.Bool}),
			expected: []string{"ALTER TABLE [dbo].[User] ALTER COLUMN [is_active] BIT NOT NULL"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(tt.got, qt.DeepEquals, tt.expected)
		})
	}
}

func TestDialect_IndexAndBackfill(t *testing.T) {
	c := qt.New(t)
	d := mssql.New()

	c.Assert(d.CreateIndexSQL(userTable, types.IndexSpec{Name: "IX_User_role", Columns: []string{"role"}}),
		qt.Equals, "CREATE INDEX [IX_User_role] ON [dbo].[User] ([role])")
	c.Assert(d.CreateIndexSQL(userTable, types.IndexSpec{Name: "UX_User_email", Columns: []string{"email"}, Unique: true}),
		qt.Equals, "CREATE UNIQUE INDEX [UX_User_email] ON [dbo].[User] ([email])")
	c.Assert(d.DropIndexSQL(userTable, "IX_User_role"), qt.Equals, "DROP INDEX [IX_User_role] ON [dbo].[User]")
	c.Assert(d.BackfillSQL(userTable, "is_active", 500),
		qt.Equals, "UPDATE TOP (500) [dbo].[User] SET [is_active] = ? WHERE [is_active] IS NULL")
	c.Assert(d.CountNullsSQL(userTable, "is_active"),
		qt.Equals, "SELECT COUNT_BIG(*) FROM [dbo].[User] WHERE [is_active] IS NULL")
}

func TestDialect_DropColumnDropsDefaultFirst(t *testing.T) {
	c := qt.New(t)
	d := mssql.New()

	stmts := d.DropColumnSQL(userTable, "is_active")
	c.Assert(stmts, qt.HasLen, 2)
	c.Assert(stmts[0], qt.Contains, "sys.default_constraints")
	c.Assert(stmts[0], qt.Contains, "OBJECT_ID(N'[dbo].[User]')")
	c.Assert(stmts[0], qt.Contains, "c.name = N'is_active'")
	c.Assert(stmts[1], qt.Equals, "ALTER TABLE [dbo].[User] DROP COLUMN [is_active]")
}

func TestDialect_GuardedScript(t *testing.T) {
	c := qt.New(t)
	d := mssql.New()

	c.Assert(d.GuardedAddColumnSQL(userTable, types.ColumnSpec{Name: "updatedAt", Type: types.Timestamp, Nullable: true}),
		qt.Equals, "IF COL_LENGTH(N'[dbo].[User]', N'updatedAt') IS NULL\n    ALTER TABLE [dbo].[User] ADD [updatedAt] DATETIME2 NULL;")
	c.Assert(d.GuardedCreateIndexSQL(userTable, types.IndexSpec{Name: "IX_User_email", Columns: []string{"email"}}),
		qt.Equals, "IF NOT EXISTS (SELECT 1 FROM sys.indexes WHERE object_id = OBJECT_ID(N'[dbo].[User]') AND name = N'IX_User_email')\n    CREATE INDEX [IX_User_email] ON [dbo].[User] ([email]);")
	c.Assert(d.BackfillScriptSQL(userTable, "is_active", true, 1000), qt.Contains, "UPDATE TOP (1000) [dbo].[User] SET [is_active] = 1 WHERE [is_active] IS NULL;")
	c.Assert(d.BackfillScriptSQL(userTable, "is_active", true, 1000), qt.Contains, "IF @@ROWCOUNT = 0 BREAK;")
	c.Assert(d.BatchSeparator(), qt.Equals, "\nGO")
}

func TestDialect_ClassifyError(t *testing.T) {
	tests := []struct {
		number int32
		reason error
	}{
		{number: 208, reason: migerr.ErrTargetMissing},
		{number: 4902, reason: migerr.ErrTargetMissing},
		{number: 229, reason: migerr.ErrPermissionDenied},
		{number: 262, reason: migerr.ErrPermissionDenied},
		{number: 2705, reason: migerr.ErrAlreadyExists},
		{number: 1913, reason: migerr.ErrAlreadyExists},
		{number: 515, reason: migerr.ErrDataViolation},
		{number: 1222, reason: migerr.ErrLockTimeout},
	}

	d := mssql.New()
	for _, tt := range tests {
		t.Run(fmt.Sprintf("error %d", tt.number), func(t *testing.T) {
			c := qt.New(t)

			driverErr := mssqldb.Error{Number: tt.number, Message: "server message"}
			err := d.ClassifyError(fmt.Errorf("exec: %w", driverErr))
			c.Assert(errors.Is(err, tt.reason), qt.IsTrue, qt.Commentf("got %v", err))
		})
	}
}

func TestDialect_ClassifyError_Passthrough(t *testing.T) {
	c := qt.New(t)
	d := mssql.New()

	plain := errors.New("network down")
	c.Assert(d.ClassifyError(plain), qt.Equals, plain)

	unknown := mssqldb.Error{Number: 50000, Message: "raiserror"}
	c.Assert(migerr.KindOf(d.ClassifyError(unknown)), qt.Equals, migerr.KindUnknown)
}
