// cmd/paygatectl/commands.go
package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	app "paygate/internal"
	"paygate/internal/api/auth"
	"paygate/internal/config"
	"paygate/internal/domain"
)

// ─── schema ────────────────────────────────────────────────────────────────

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error {
			// Initialize already ran the migrations.
			if a.DB == nil {
				return fmt.Errorf("migrate needs DB_DRIVER=postgres or pgx")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date.")
			return nil
		}),
	}
}

// ─── tokens ────────────────────────────────────────────────────────────────

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token IDENTITY",
		Short: "Mint a bearer token for the HTTP API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			authn := auth.NewAuthenticator(cfg.JWTSecret, cfg.AdminIDs)
			switch auth.Role(role) {
			case auth.RoleUser:
			case auth.RoleAdmin:
				if !authn.IsAdmin(args[0]) {
					return fmt.Errorf("%s is not listed in ADMIN_IDS", args[0])
				}
			default:
				return fmt.Errorf("unknown role %q, use user or admin", role)
			}
			tok, err := authn.Issue(args[0], auth.Role(role), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().String("role", string(auth.RoleUser), "Token role: user or admin")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
	return cmd
}

// ─── settings ──────────────────────────────────────────────────────────────

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change runtime settings",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Print the effective settings",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error {
			settings, err := a.SettingsService.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tVALUE\tVERSION\tUPDATED BY")
			for _, s := range settings {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.Key, s.Value, s.Version, s.UpdatedBy)
			}
			return w.Flush()
		}),
	}, &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Write one setting",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error {
			admin, err := adminIdentity(cmd, a)
			if err != nil {
				return err
			}
			s, err := a.SettingsService.Set(ctx, args[0], args[1], domain.ActorAdmin(admin))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (version %d)\n", s.Key, s.Value, s.Version)
			return nil
		}),
	})
	return cmd
}

func rateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Manage conversion rates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set FROM TO RATE",
		Short: "Set the rate converting one unit of FROM into TO",
		Args:  cobra.ExactArgs(3),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error {
			admin, err := adminIdentity(cmd, a)
			if err != nil {
				return err
			}
			rate, err := decimal.NewFromString(args[2])
			if err != nil {
				return fmt.Errorf("invalid rate %q", args[2])
			}
			s, err := a.SettingsService.SetRate(ctx, args[0], args[1], rate, domain.ActorAdmin(admin))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s (version %d)\n", s.Key, s.Value, s.Version)
			return nil
		}),
	})
	return cmd
}

// ─── review ────────────────────────────────────────────────────────────────

func pendingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List transactions waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error {
			awaiting, _ := cmd.Flags().GetBool("awaiting-reference")
			list := a.PaymentService.ListPending
			if awaiting {
				list = a.PaymentService.ListAwaitingReference
			}
			txs, err := list(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REF\tDIRECTION\tAMOUNT\tSETTLED\tDESTINATION\tREFERENCE\tCREATED")
			for _, t := range txs {
				settled := "-"
				if t.SettledAmount.Valid {
					settled = t.SettledAmount.Decimal.String() + " " + t.SettledCurrency
				}
				ref := "-"
				if t.ExternalReference != nil {
					ref = *t.ExternalReference
				}
				fmt.Fprintf(w, "%s\t%s\t%s %s\t%s\t%s\t%s\t%s\n",
					t.Ref(), t.Direction, t.Amount, t.Currency, settled, orDash(t.Destination), ref, t.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		}),
	}
	cmd.Flags().Bool("awaiting-reference", false, "List approved withdrawals still awaiting a settlement reference")
	return cmd
}

// reviewCmd builds a command acting on one transaction reference (rail/id).
func reviewCmd(use, short string, args cobra.PositionalArgs, run func(ctx context.Context, a *app.Application, ref domain.TxRef, admin string, rest []string) (*domain.Transaction, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error {
			ref, err := domain.ParseTxRef(args[0])
			if err != nil {
				return err
			}
			admin, err := adminIdentity(cmd, a)
			if err != nil {
				return err
			}
			t, err := run(ctx, a, ref, admin, args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", t.Ref(), t.Status)
			return nil
		}),
	}
}

func approveCmd() *cobra.Command {
	return reviewCmd("approve RAIL/ID", "Approve a pending transaction", cobra.ExactArgs(1),
		func(ctx context.Context, a *app.Application, ref domain.TxRef, admin string, _ []string) (*domain.Transaction, error) {
			return a.PaymentService.Approve(ctx, ref, admin)
		})
}

func rejectCmd() *cobra.Command {
	return reviewCmd("reject RAIL/ID REASON...", "Reject a pending transaction, refunding withdrawals", cobra.MinimumNArgs(2),
		func(ctx context.Context, a *app.Application, ref domain.TxRef, admin string, rest []string) (*domain.Transaction, error) {
			return a.PaymentService.Reject(ctx, ref, admin, strings.Join(rest, " "))
		})
}

func referenceCmd() *cobra.Command {
	return reviewCmd("reference RAIL/ID REFERENCE", "Record the settlement reference of a withdrawal", cobra.ExactArgs(2),
		func(ctx context.Context, a *app.Application, ref domain.TxRef, admin string, rest []string) (*domain.Transaction, error) {
			return a.PaymentService.SetExternalReference(ctx, ref, admin, rest[0])
		})
}

func failCmd() *cobra.Command {
	return reviewCmd("fail RAIL/ID REASON...", "Mark a withdrawal awaiting a reference as failed", cobra.MinimumNArgs(2),
		func(ctx context.Context, a *app.Application, ref domain.TxRef, admin string, rest []string) (*domain.Transaction, error) {
			return a.PaymentService.MarkFailed(ctx, ref, admin, strings.Join(rest, " "))
		})
}

func reconcileCmd() *cobra.Command {
	return reviewCmd("reconcile RAIL/ID", "Resolve an indeterminate payout from the rail's history", cobra.ExactArgs(1),
		func(ctx context.Context, a *app.Application, ref domain.TxRef, admin string, _ []string) (*domain.Transaction, error) {
			return a.PaymentService.Reconcile(ctx, ref, admin)
		})
}

func refundCmd() *cobra.Command {
	return reviewCmd("refund RAIL/ID", "Return the funds of a failed withdrawal", cobra.ExactArgs(1),
		func(ctx context.Context, a *app.Application, ref domain.TxRef, admin string, _ []string) (*domain.Transaction, error) {
			return a.PaymentService.RefundFailed(ctx, ref, admin)
		})
}

// ─── whitelist ─────────────────────────────────────────────────────────────

func whitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Review payout destinations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "approve ID",
		Short: "Activate a pending payout destination",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app.Application, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid whitelist id %q", args[0])
			}
			admin, err := adminIdentity(cmd, a)
			if err != nil {
				return err
			}
			e, err := a.WhitelistService.Approve(ctx, id, admin)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "whitelist entry %d (%s %s) is now %s\n", e.ID, e.Rail, e.Destination, e.Status)
			return nil
		}),
	})
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
