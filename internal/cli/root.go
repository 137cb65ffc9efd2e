// Package cli implements ecoctl, the operator command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"ecocredit.org/internal/app"
	"ecocredit.org/internal/auth"
	"ecocredit.org/internal/config"
	"ecocredit.org/internal/obs"
)

// Option adjusts the root command.
type Option func(*runner)

// WithApp runs every command against a prebuilt App instead of one built from config.
func WithApp(a *app.App) Option {
	return func(r *runner) { r.app = a }
}

type runner struct {
	cfgFile string
	app     *app.App
}

// NewRootCmd returns the ecoctl command tree.
func NewRootCmd(opts ...Option) *cobra.Command {
	r := &runner{}
	for _, opt := range opts {
		opt(r)
	}

	root := &cobra.Command{
		Use:           "ecoctl",
		Short:         "Operate the eco-credit service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&r.cfgFile, "config", "", "config file path (default: ./ecocredit.yaml if present)")

	root.AddCommand(
		newBillsCmd(r),
		newActionsCmd(r),
		newTokenCmd(r),
		newMigrateCmd(r),
	)
	return root
}

// Execute runs the command tree and logs a failure.
func Execute(ctx context.Context, args []string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	root := NewRootCmd()
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		obs.Logger().ErrorContext(ctx, "command execution failed", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (r *runner) loadConfig(ctx context.Context) (config.Config, error) {
	if r.app != nil {
		return r.app.Config, nil
	}
	cfg, err := config.Load(ctx, r.cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	obs.SetLevel(cfg.Log.Level)
	if cfg.Auth.Secret != "" {
		auth.SetSecret(cfg.Auth.Secret)
	}
	return cfg, nil
}

// withApp builds the App for the duration of one command.
func (r *runner) withApp(run func(cmd *cobra.Command, args []string, a *app.App) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if r.app != nil {
			return run(cmd, args, r.app)
		}
		ctx := cmd.Context()
		cfg, err := r.loadConfig(ctx)
		if err != nil {
			return err
		}
		a, err := app.Build(ctx, cfg)
		if err != nil {
			return fmt.Errorf("build: %w", err)
		}
		defer a.Close()
		return run(cmd, args, a)
	}
}
