package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"ecocredit.org/internal/app"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/registry"
)

func newBillsCmd(r *runner) *cobra.Command {
	bills := &cobra.Command{Use: "bills", Short: "Inspect the evidence fingerprint registry"}

	export := &cobra.Command{
		Use:   "export",
		Short: "Write every claimed fingerprint as CSV",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			outPath, _ := cmd.Flags().GetString("out")
			var w io.Writer = cmd.OutOrStdout()
			if outPath != "" && outPath != "-" {
				f, err := os.Create(outPath)
				if err != nil {
					return fmt.Errorf("create %s: %w", outPath, err)
				}
				defer f.Close()
				w = f
			}
			return registry.WriteCSV(cmd.Context(), w, a.Registry)
		}),
	}
	export.Flags().String("out", "", "output file (default stdout)")

	bills.AddCommand(export)
	return bills
}

func newActionsCmd(r *runner) *cobra.Command {
	actions := &cobra.Command{Use: "actions", Short: "Review submitted actions"}

	pending := &cobra.Command{
		Use:   "pending",
		Short: "List actions awaiting review, newest first",
		Args:  cobra.NoArgs,
		RunE: r.withApp(func(cmd *cobra.Command, _ []string, a *app.App) error {
			as, _ := cmd.Flags().GetString("as")
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := auth.ContextWithPrincipal(cmd.Context(), operator(as))

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tACCOUNT\tCATEGORY\tCO2\tCREATED")
			n := 0
			for act, err := range a.Review.ListPending(ctx) {
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", act.ID, act.AccountID, act.Category,
					act.CO2Saved.String(), act.CreatedAt.Format(time.RFC3339))
				n++
				if limit > 0 && n >= limit {
					break
				}
			}
			return tw.Flush()
		}),
	}
	pending.Flags().Int("limit", 50, "maximum rows (0 for all)")

	review := &cobra.Command{
		Use:   "review <action-id>",
		Short: "Approve or reject a pending action",
		Args:  cobra.ExactArgs(1),
		RunE: r.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			approve, _ := cmd.Flags().GetBool("approve")
			reject, _ := cmd.Flags().GetBool("reject")
			if approve == reject {
				return errors.New("exactly one of --approve or --reject is required")
			}
			as, _ := cmd.Flags().GetString("as")
			ctx := auth.ContextWithPrincipal(cmd.Context(), operator(as))

			decided, err := a.Review.Review(ctx, args[0], approve)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decided)
		}),
	}
	review.Flags().Bool("approve", false, "approve the action and grant its credits")
	review.Flags().Bool("reject", false, "reject the action")

	actions.PersistentFlags().String("as", "admin@carbon.com", "reviewer identity (email or user id)")
	actions.AddCommand(pending, review)
	return actions
}

// operator builds the reviewer principal; the admin policy still decides access.
func operator(identity string) auth.Principal {
	identity = strings.TrimSpace(identity)
	if strings.Contains(identity, "@") {
		return auth.Principal{UserID: identity, Email: identity}
	}
	return auth.Principal{UserID: identity}
}

func newTokenCmd(r *runner) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a bearer token with the configured secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := r.loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			user, _ := cmd.Flags().GetString("user")
			email, _ := cmd.Flags().GetString("email")
			roles, _ := cmd.Flags().GetStringSlice("roles")
			ttl, _ := cmd.Flags().GetDuration("ttl")
			if strings.TrimSpace(user) == "" {
				return errors.New("--user is required")
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := auth.GenerateToken(user, email, roles, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("user", "", "subject user id")
	cmd.Flags().String("email", "", "subject email")
	cmd.Flags().StringSlice("roles", []string{auth.RoleUser}, "roles to grant")
	cmd.Flags().Duration("ttl", 0, "token lifetime (default auth.token_ttl)")
	return cmd
}

func newMigrateCmd(r *runner) *cobra.Command {
	return &cobra.Command{
		Use:       "migrate <up|down|seed|status|pending>",
		Short:     "Manage the PostgreSQL schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down", "seed", "status", "pending"},
		RunE: r.withApp(func(cmd *cobra.Command, args []string, a *app.App) error {
			if a.PG == nil {
				return errors.New("migrate requires storage.backend=postgres")
			}
			mgr := a.PG.Migrator()
			ctx := cmd.Context()
			var (
				lines []string
				err   error
			)
			switch args[0] {
			case "up":
				lines, err = mgr.Up(ctx)
			case "down":
				var name string
				if name, err = mgr.Down(ctx); name != "" {
					lines = []string{name}
				}
			case "seed":
				lines, err = mgr.Seed(ctx)
			case "status":
				lines, err = mgr.Status(ctx)
			case "pending":
				lines, err = mgr.Pending(ctx)
			}
			if err != nil {
				return err
			}
			for _, l := range lines {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		}),
	}
}
