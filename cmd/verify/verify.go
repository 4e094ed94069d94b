package verify

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stokaro/userschema/cmd/cmdutil"
	"github.com/stokaro/userschema/core/logging"
	"github.com/stokaro/userschema/usertable"
)

func NewVerifyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that the User table has the migrated shape",
		Long: `Check the User table against the shape the migrations produce: the new
columns with their nullability, both indexes on the right columns, no NULL
is_active values and, with tenancy enabled, the tenancy columns and indexes.`,
		Args: cobra.NoArgs,
		RunE: verifyCommand,
	}
}

func verifyCommand(cmd *cobra.Command, _ []string) error {
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

	opts := env.UnitOptions()
	if err := usertable.Verify(ctx, conn, opts); err != nil {
		env.Logger.Error("Verification failed", logging.Err(err))
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Table %s matches the expected shape\n", opts.Table.Name)
	return nil
}
