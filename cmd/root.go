// Package cmd defines the CLI commands for the storefront-watch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/storefront-watch/internal/app"
	"github.com/JakeFAU/storefront-watch/internal/config"
	"github.com/JakeFAU/storefront-watch/internal/frontier"
	"github.com/JakeFAU/storefront-watch/internal/logging"
)

// Runner is the part of the application the commands drive. Tests inject a
// fake through newApp.
type Runner interface {
	Run(ctx context.Context) (frontier.Stats, error)
	Close()
}

type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.New(ctx, cfg, logger)
}

// newLogger is swapped in tests to keep output quiet.
var newLogger = logging.New

func newRootCmd() *cobra.Command {
	var cfgFile string
	var logger *zap.Logger

	cmd := &cobra.Command{
		Use:   "storefront-watch",
		Short: "Crawls storefront product pages and reports price and stock changes.",
		Long: `storefront-watch visits product, seller, category and keyword pages of a
storefront, extracts normalized product records, and compares each product
against its last snapshot to detect price and availability changes.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if err := applyFlagOverrides(cmd, &cfg); err != nil {
				return err
			}
			logger, err = newLogger(cfg.Debug)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			runner, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, runner))
			return nil
		},

		PersistentPostRun: func(*cobra.Command, []string) {
			if logger != nil {
				_ = logging.Sync(logger)
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the STOREFRONT_ prefix")
	cmd.AddCommand(newCrawlCmd())
	return cmd
}

func resolveApp(ctx context.Context) (Runner, error) {
	runner, ok := ctx.Value(appKey).(Runner)
	if !ok || runner == nil {
		return nil, errors.New("application services not initialized")
	}
	return runner, nil
}

// Execute is the main entry point. SIGINT and SIGTERM stop new requests from
// starting; in-flight pages finish before the process exits.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "storefront-watch:", err)
		stop()
		os.Exit(1)
	}
}
