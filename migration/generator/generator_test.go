package generator_test

import (
	"os"
	"path/filepath"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/stokaro/userschema/migration/generator"
	"github.com/stokaro/userschema/migration/migrator"
)

func TestGenerateEmptyMigration(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	files, err := generator.GenerateEmptyMigration(generator.GenerateEmptyMigrationOptions{
		MigrationName: "Backfill user phone numbers",
		OutputDir:     dir,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(filepath.Base(files.UpFile), qt.Equals,
		migrator.GenerateMigrationFileName(files.Version, "backfill_user_phone_numbers", "up"))

	up, err := os.ReadFile(files.UpFile)
	c.Assert(err, qt.IsNil)
	c.Assert(string(up), qt.Contains, "-- Migration: Backfill user phone numbers (up)\n")

	// the skeleton loads as a regular transactional migration
	provider, err := migrator.NewFSMigrationProvider(os.DirFS(dir))
	c.Assert(err, qt.IsNil)
	migrations := provider.Migrations()
	c.Assert(migrations, qt.HasLen, 1)
	c.Assert(migrations[0].Version, qt.Equals, files.Version)
	c.Assert(migrations[0].Description, qt.Equals, "Backfill User Phone Numbers")
	c.Assert(migrations[0].NoTransaction, qt.IsFalse)
}

func TestGenerateEmptyMigration_NameRequired(t *testing.T) {
	c := qt.New(t)

	_, err := generator.GenerateEmptyMigration(generator.GenerateEmptyMigrationOptions{OutputDir: t.TempDir()})
	c.Assert(err, qt.ErrorMatches, "migration name is required")
}

func TestGenerateMigration(t *testing.T) {
	c := qt.New(t)
	dir := t.TempDir()

	opts := generator.GenerateMigrationOptions{
		MigrationName: "index_user_phone",
		OutputDir:     dir,
		Version:       42,
		UpSQL:         "CREATE INDEX [IX_User_phoneNumber] ON [dbo].[User] ([phoneNumber]);\n",
		DownSQL:       "DROP INDEX [IX_User_phoneNumber] ON [dbo].[User];\n",
		NoTransaction: true,
	}
	files, err := generator.GenerateMigration(opts)
	c.Assert(err, qt.IsNil)
	c.Assert(files.Version, qt.Equals, 42)
	c.Assert(filepath.Base(files.DownFile), qt.Equals, "0000000042_index_user_phone.down.sql")

	// an existing version is never overwritten
	again, err := generator.GenerateMigration(opts)
	c.Assert(err, qt.IsNil)
	c.Assert(again.Version, qt.Equals, 43)

	provider, err := migrator.NewFSMigrationProvider(os.DirFS(dir))
	c.Assert(err, qt.IsNil)
	migrations := provider.Migrations()
	c.Assert(migrations, qt.HasLen, 2)
	c.Assert(migrations[0].NoTransaction, qt.IsTrue)
	c.Assert(migrations[0].Checksum, qt.Equals, migrations[1].Checksum)
}

func TestGenerateMigration_OutputDirRequired(t *testing.T) {
	c := qt.New(t)

	_, err := generator.GenerateMigration(generator.GenerateMigrationOptions{MigrationName: "x"})
	c.Assert(err, qt.ErrorMatches, "output directory is required")
}
