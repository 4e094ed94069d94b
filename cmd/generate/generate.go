package generate

import (
	"fmt"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/userschema/cmd/cmdutil"
	"github.com/stokaro/userschema/core/platform"
	"github.com/stokaro/userschema/dbschema"
	"github.com/stokaro/userschema/migration/generator"
	"github.com/stokaro/userschema/migration/migrator"
	"github.com/stokaro/userschema/usertable"
)

// Script flags
const (
	dialectFlag = "dialect"
	downFlag    = "down"
)

var scriptFlags = map[string]cobraflags.Flag{
	dialectFlag: &cobraflags.StringFlag{
		Name:  dialectFlag,
		Value: platform.SQLServer,
		Usage: "Database dialect (sqlserver, postgres, mariadb)",
	},
	downFlag: &cobraflags.BoolFlag{
		Name:  downFlag,
		Value: false,
		Usage: "Render the rollback script",
	},
}

// Migration generation flags
const (
	nameFlag      = "name"
	outputDirFlag = "output-dir"
)

var migrationFlags = map[string]cobraflags.Flag{
	nameFlag: &cobraflags.StringFlag{
		Name:  nameFlag,
		Value: "",
		Usage: "Name for the migration (required)",
	},
	outputDirFlag: &cobraflags.StringFlag{
		Name:  outputDirFlag,
		Value: "./migrations",
		Usage: "Directory where migration files will be saved",
	},
}

func NewGenerateCommand() *cobra.Command {
	generateCmd := &cobra.Command{
		Use:   "generate [script|migration]",
		Short: "Render the guarded User script or create empty migration files",
		Long: `Render the User table migrations as a guarded SQL script, or create empty
migration files for manual editing.

Available subcommands:
  script     - Print the guarded script for a dialect
  migration  - Generate empty migration files for manual editing

Examples:
  userschema generate script                         # SQL Server up script
  userschema generate script --dialect postgres --down
  userschema generate migration --name add_phone_index`,
	}

	generateCmd.AddCommand(newScriptCommand())
	generateCmd.AddCommand(newMigrationCommand())
	return generateCmd
}

func newScriptCommand() *cobra.Command {
	scriptCmd := &cobra.Command{
		Use:   "script",
		Short: "Print the guarded SQL script of the User migrations",
		Long: `Print the User table migrations as a script that checks the catalog before
every change, so it can be run by hand any number of times. Table, batch size
and tenancy settings come from the configuration.`,
		Args: cobra.NoArgs,
		RunE: scriptCommand,
	}

	cobraflags.RegisterMap(scriptCmd, scriptFlags)
	return scriptCmd
}

// newMigrationCommand creates the migration subcommand for empty migration files
func newMigrationCommand() *cobra.Command {
	migrationCmd := &cobra.Command{
		Use:   "migration",
		Short: "Generate empty migration files for manual editing",
		Long: `Generate empty skeleton migration files with proper timestamps and naming conventions.

Point migration.dir at the output directory to run them together with the
User table migrations.`,
		Args: cobra.NoArgs,
		RunE: migrationCommand,
	}

	cobraflags.RegisterMap(migrationCmd, migrationFlags)
	return migrationCmd
}

func scriptCommand(cmd *cobra.Command, _ []string) error {
	env, err := cmdutil.Load(cmd)
	if err != nil {
		return err
	}

	dialect, err := dbschema.DialectFor(scriptFlags[dialectFlag].GetString())
	if err != nil {
		return err
	}
	direction := migrator.Up
	if down, _ := cmd.Flags().GetBool(downFlag); down {
		direction = migrator.Down
	}

	script, err := usertable.Script(dialect, env.UnitOptions(), direction)
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), script)
	return nil
}

func migrationCommand(cmd *cobra.Command, _ []string) error {
	migrationName := migrationFlags[nameFlag].GetString()
	outputDir := migrationFlags[outputDirFlag].GetString()

	if migrationName == "" {
		return fmt.Errorf("migration name is required (use --name flag)")
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Generating empty migration: %s\n", migrationName)
	fmt.Fprintf(out, "Output directory: %s\n", outputDir)
	fmt.Fprintln(out)

	files, err := generator.GenerateEmptyMigration(generator.GenerateEmptyMigrationOptions{
		MigrationName: migrationName,
		OutputDir:     outputDir,
	})
	if err != nil {
		return fmt.Errorf("error generating migration files: %w", err)
	}

	fmt.Fprintf(out, "Generated migration files:\n")
	fmt.Fprintf(out, "  UP:   %s\n", files.UpFile)
	fmt.Fprintf(out, "  DOWN: %s\n", files.DownFile)
	fmt.Fprintf(out, "  Version: %d\n", files.Version)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "You can now edit these files to add your custom SQL.")

	return nil
}
