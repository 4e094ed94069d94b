package sqlutil_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/userschema/core/sqlutil"
)

func TestSplitSQLStatements(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected []string
	}{
		{
			name:     "single statement",
			sql:      "ALTER TABLE users ADD is_active BIT NULL;",
			expected: []string{"ALTER TABLE users ADD is_active BIT NULL"},
		},
		{
			name: "multiple statements",
			sql:  "CREATE INDEX IX_User_role ON users(role); CREATE INDEX IX_User_email ON users(email);",
			expected: []string{
				"CREATE INDEX IX_User_role ON users(role)",
				"CREATE INDEX IX_User_email ON users(email)",
			},
		},
		{
			name:     "semicolon inside string literal",
			sql:      "UPDATE users SET note = 'a;b' WHERE id = 1;",
			expected: []string{"UPDATE users SET note = 'a;b' WHERE id = 1"},
		},
		{
			name:     "escaped quote inside literal",
			sql:      "INSERT INTO t VALUES ('it''s;fine'); SELECT 1",
			expected: []string{"INSERT INTO t VALUES ('it''s;fine')", "SELECT 1"},
		},
		{
			name:     "semicolon inside bracketed identifier",
			sql:      "SELECT [odd;name] FROM [dbo].[User];",
			expected: []string{"SELECT [odd;name] FROM [dbo].[User]"},
		},
		{
			name:     "dollar quoted body",
			sql:      "CREATE FUNCTION f() RETURNS void AS $$ BEGIN PERFORM 1; END $$ LANGUAGE plpgsql;",
			expected: []string{"CREATE FUNCTION f() RETURNS void AS $$ BEGIN PERFORM 1; END $$ LANGUAGE plpgsql"},
		},
		{
			name:     "empty SQL",
			sql:      "",
			expected: []string{},
		},
		{
			name:     "only comments",
			sql:      "-- nothing here\n/* still nothing; */",
			expected: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(sqlutil.SplitSQLStatements(tt.sql), qt.DeepEquals, tt.expected)
		})
	}
}

func TestStripComments(t *testing.T) {
	c := qt.New(t)

	sql := "-- header\nSELECT '--not a comment' /* inline */ FROM t"
	c.Assert(sqlutil.StripComments(sql), qt.Equals, "\nSELECT '--not a comment'   FROM t")
}

func TestSplitBatches(t *testing.T) {
	c := qt.New(t)

	script := `IF COL_LENGTH(N'dbo.User', N'is_active') IS NULL
BEGIN
    ALTER TABLE [dbo].[User] ADD [is_active] BIT NULL;
END
GO
  go
-- only a comment
GO
CREATE INDEX [IX_User_role] ON [dbo].[User] ([role]);
`
	batches := sqlutil.SplitBatches(script)
	c.Assert(batches, qt.HasLen, 2)
	c.Assert(batches[0], qt.Equals, "IF COL_LENGTH(N'dbo.User', N'is_active') IS NULL\nBEGIN\n    ALTER TABLE [dbo].[User] ADD [is_active] BIT NULL;\nEND")
	c.Assert(batches[1], qt.Equals, "CREATE INDEX [IX_User_role] ON [dbo].[User] ([role]);")
}

func TestSplitBatches_NoSeparator(t *testing.T) {
	c := qt.New(t)

	c.Assert(sqlutil.SplitBatches("SELECT 1"), qt.DeepEquals, []string{"SELECT 1"})
	c.Assert(sqlutil.SplitBatches("\n\n"), qt.DeepEquals, []string{})
}
