package platform_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/userschema/core/platform"
)

func TestNormalizeDialect(t *testing.T) {
	tests := []struct {
		input     string
		expected  string
		mysqlLike bool
	}{
		{input: "sqlserver", expected: platform.SQLServer},
		{input: "MSSQL", expected: platform.SQLServer},
		{input: " azure-sql ", expected: platform.SQLServer},
		{input: "pgx", expected: platform.Postgres},
		{input: "postgresql", expected: platform.Postgres},
		{input: "mysql", expected: platform.MySQL, mysqlLike: true},
		{input: "MariaDB", expected: platform.MariaDB, mysqlLike: true},
		{input: "oracle", expected: ""},
		{input: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			c := qt.New(t)
			c.Assert(platform.NormalizeDialect(tt.input), qt.Equals, tt.expected)
			c.Assert(platform.IsMySQLLike(tt.input), qt.Equals, tt.mysqlLike)
		})
	}
}
