package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stokaro/userschema/cmd/cmdutil"
	"github.com/stokaro/userschema/cmd/generate"
	"github.com/stokaro/userschema/cmd/migrate"
	"github.com/stokaro/userschema/cmd/verify"
)

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "userschema",
		Short: "Evolve the User table of the operations database",
		Long: `userschema adds the activity columns (is_active, lastLoginAt, updatedAt),
the role and email indexes and, when enabled, the tenancy columns to the
User table. Every step is guarded, so runs can be repeated and resumed.

Configuration is read from --config, USERSCHEMA_* environment variables and
SQLALCHEMY_DATABASE_URI_OPS for the database URL.`,
		SilenceUsage: true,
	}

	cmdutil.RegisterGlobalFlags(rootCmd)
	rootCmd.AddCommand(migrate.NewMigrateCommand())
	rootCmd.AddCommand(verify.NewVerifyCommand())
	rootCmd.AddCommand(generate.NewGenerateCommand())
	return rootCmd
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
