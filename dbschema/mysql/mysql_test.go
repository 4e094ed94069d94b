package mysql_test

import (
	"errors"
	"fmt"
	"testing"

	qt "github.com/frankban/quicktest"
	gomysql "github.com/go-sql-driver/mysql"

	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/dbschema/mysql"
	"github.com/stokaro/userschema/dbschema/types"
	"github.com/stokaro/userschema/migration/migerr"
)

var userTable = types.TableRef{Name: "User"}

func TestDialect_Rendering(t *testing.T) {
	c := qt.New(t)
	d := mysql.New()

	c.Assert(d.Name(), qt.Equals, platform.MySQL)
	c.Assert(d.QualifiedName(userTable), qt.Equals, "`User`")
	c.Assert(d.QualifiedName(types.TableRef{Schema: "app", Name: "User"}), qt.Equals, "`app`.`User`")
	c.Assert(d.AddColumnSQL(userTable, types.ColumnSpec{Name: "is_active", Type: types.Bool, Nullable: true, Default: true}),
		qt.DeepEquals, []string{"ALTER TABLE `User` ADD COLUMN `is_active` TINYINT(1) NULL DEFAULT 1"})
	c.Assert(d.SetNotNullSQL(userTable, types.ColumnSpec{Name: "is_active", Type: types.Bool, Nullable: true, Default: true}),
		qt.DeepEquals, []string{"ALTER TABLE `User` MODIFY COLUMN `is_active` TINYINT(1) NOT NULL DEFAULT 1"})
	c.Assert(d.BackfillSQL(userTable, "is_active", 50), qt.Equals,
		"UPDATE `User` SET `is_active` = ? WHERE `is_active` IS NULL LIMIT 50")
	c.Assert(d.DropIndexSQL(userTable, "IX_User_role"), qt.Equals, "DROP INDEX `IX_User_role` ON `User`")
}

func TestMariaDB_GuardedScript(t *testing.T) {
	c := qt.New(t)
	d := mysql.NewMariaDB()

	c.Assert(d.Name(), qt.Equals, platform.MariaDB)
	c.Assert(d.GuardedAddColumnSQL(userTable, types.ColumnSpec{Name: "updatedAt", Type: types.Timestamp, Nullable: true}),
		qt.Equals, "ALTER TABLE `User` ADD COLUMN IF NOT EXISTS `updatedAt` DATETIME(6) NULL")
	c.Assert(d.GuardedCreateIndexSQL(userTable, types.IndexSpec{Name: "IX_User_role", Columns: []string{"role"}}),
		qt.Equals, "CREATE INDEX IF NOT EXISTS `IX_User_role` ON `User` (`role`)")
	c.Assert(d.BackfillScriptSQL(userTable, "tenant_id", "o'brien", 0), qt.Equals,
		"UPDATE `User` SET `tenant_id` = 'o''brien' WHERE `tenant_id` IS NULL")
}

func TestPlainMySQLHasNoScriptRenderer(t *testing.T) {
	c := qt.New(t)

	var d types.Dialect = mysql.New()
	_, ok := d.(types.ScriptRenderer)
	c.Assert(ok, qt.IsFalse)
}

func TestDialect_ClassifyError(t *testing.T) {
	tests := []struct {
		number uint16
		reason error
	}{
		{number: 1146, reason: migerr.ErrTargetMissing},
		{number: 1054, reason: migerr.ErrTargetMissing},
		{number: 1142, reason: migerr.ErrPermissionDenied},
		{number: 1060, reason: migerr.ErrAlreadyExists},
		{number: 1061, reason: migerr.ErrAlreadyExists},
		{number: 1048, reason: migerr.ErrDataViolation},
		{number: 1205, reason: migerr.ErrLockTimeout},
	}

	d := mysql.New()
	for _, tt := range tests {
		t.Run(fmt.Sprintf("error %d", tt.number), func(t *testing.T) {
			c := qt.New(t)
			err := d.ClassifyError(fmt.Errorf("exec: %w", &gomysql.MySQLError{Number: tt.number}))
			c.Assert(errors.Is(err, tt.reason), qt.IsTrue, qt.Commentf("got %v", err))
		})
	}
}
