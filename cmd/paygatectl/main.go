// cmd/paygatectl/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	app "paygate/internal"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Every command reads the same environment as the API server.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "paygatectl",
		Short: "Administer the payment gateway",
		Long: `paygatectl runs administrator operations directly against the gateway's store:
reviewing transactions, changing settings and rates, approving payout
destinations, migrating the schema and minting API tokens.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("admin", os.Getenv("PAYGATE_ADMIN"), "Administrator identity recorded in the audit log")

	root.AddCommand(
		migrateCmd(),
		tokenCmd(),
		settingsCmd(),
		rateCmd(),
		pendingCmd(),
		approveCmd(),
		rejectCmd(),
		referenceCmd(),
		failCmd(),
		reconcileCmd(),
		refundCmd(),
		whitelistCmd(),
	)
	return root
}

// withApp initializes the application for the duration of one command.
func withApp(fn func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		a := app.NewApplication()
		if err := a.Initialize(ctx); err != nil {
			return err
		}
		defer func() {
			if err := a.Shutdown(context.Background()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "shutdown:", err)
			}
		}()
		return fn(ctx, cmd, a, args)
	}
}

// adminIdentity returns the --admin flag after checking it names a configured administrator.
func adminIdentity(cmd *cobra.Command, a *app.Application) (string, error) {
	admin, _ := cmd.Flags().GetString("admin")
	if admin == "" {
		return "", fmt.Errorf("--admin (or PAYGATE_ADMIN) is required")
	}
	if !a.Auth.IsAdmin(admin) {
		return "", fmt.Errorf("%s is not listed in ADMIN_IDS", admin)
	}
	return admin, nil
}
