package migrate

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/go-extras/cobraflags"
	"github.com/spf13/cobra"

	"github.com/stokaro/userschema/cmd/cmdutil"
	"github.com/stokaro/userschema/core/logging"
	"github.com/stokaro/userschema/migration/migerr"
	"github.com/stokaro/userschema/migration/migrator"
)

const versionFlag = "version"

var toFlags = map[string]cobraflags.Flag{
	versionFlag: &cobraflags.IntFlag{
		Name:  versionFlag,
		Value: 0,
		Usage: "Target version (0 rolls back everything)",
	},
}

func NewMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate [up|down|to|status]",
		Short: "Apply, roll back or inspect the User table migrations",
		Long: `Apply, roll back or inspect the User table migrations.

Every run holds the migration lock, so concurrent runs wait for each other.
A run with nothing to do prints "already applied" and succeeds.

Examples:
  userschema migrate up
  userschema migrate to --version 20251120090000
  userschema migrate down
  userschema migrate status`,
	}

	migrateCmd.AddCommand(
		newRunCommand("up", "Apply every pending migration", func(ctx context.Context, m *migrator.Migrator, _ *cobra.Command) (*migrator.RunResult, error) {
			return m.MigrateUp(ctx)
		}),
		newRunCommand("down", "Roll back the most recently applied migration", func(ctx context.Context, m *migrator.Migrator, _ *cobra.Command) (*migrator.RunResult, error) {
			return m.MigrateDown(ctx)
		}),
		newToCommand(),
		newStatusCommand(),
	)
	return migrateCmd
}

type runFunc func(ctx context.Context, m *migrator.Migrator, cmd *cobra.Command) (*migrator.RunResult, error)

func newRunCommand(use, short string, fn runFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(ctx context.Context, env *cmdutil.Env, m *migrator.Migrator) error {
				result, err := fn(ctx, m, cmd)
				if err != nil {
					env.Logger.Error("Migration failed", logging.Err(err), "kind", migerr.KindOf(err))
					return err
				}
				printResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
}

func newToCommand() *cobra.Command {
	toCmd := newRunCommand("to", "Migrate up or down to the given version", func(ctx context.Context, m *migrator.Migrator, cmd *cobra.Command) (*migrator.RunResult, error) {
		version, err := cmd.Flags().GetInt(versionFlag)
		if err != nil {
			return nil, err
		}
		return m.MigrateTo(ctx, version)
	})
	cobraflags.RegisterMap(toCmd, toFlags)
	_ = toCmd.MarkFlagRequired(versionFlag)
	return toCmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, func(ctx context.Context, _ *cmdutil.Env, m *migrator.Migrator) error {
				status, err := m.GetMigrationStatus(ctx)
				if err != nil {
					return err
				}
				printStatus(cmd.OutOrStdout(), status)
				return nil
			})
		},
	}
}

func withMigrator(cmd *cobra.Command, fn func(ctx context.Context, env *cmdutil.Env, m *migrator.Migrator) error) error {
	env, err := cmdutil.Load(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	conn, err := env.Connect(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	m, err := env.NewMigrator(conn)
	if err != nil {
		return err
	}
	return fn(ctx, env, m)
}

func printResult(w io.Writer, result *migrator.RunResult) {
	fmt.Fprintln(w, result)
	for _, version := range result.Versions {
		report, ok := result.Reports[version]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%d:\n", version)
		for _, line := range strings.Split(report.String(), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func printStatus(w io.Writer, status *migrator.MigrationStatus) {
	fmt.Fprintf(w, "Current version: %d\n", status.CurrentVersion)
	fmt.Fprintf(w, "Total migrations: %d\n", status.TotalMigrations)
	fmt.Fprintf(w, "Applied: %s\n", joinVersions(status.AppliedMigrations))
	fmt.Fprintf(w, "Pending: %s\n", joinVersions(status.PendingMigrations))
	if !status.HasPendingChanges {
		fmt.Fprintln(w, "Database is up to date")
	}
}

func joinVersions(versions []int) string {
	if len(versions) == 0 {
		return "none"
	}
	parts := make([]string, len(versions))
	for i, v := range versions {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
