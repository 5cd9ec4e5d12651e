// Package cmd defines and implements the CLI commands for the wikiharvest
// executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/config"
	"github.com/mkarlsen/wikiharvest/internal/logging"
)

var cfgFile string

// runtimeKeyType is the key for storing the shared runtime in the context.
type runtimeKeyType string

const runtimeKey runtimeKeyType = "runtime"

// runtime carries the pieces every subcommand needs.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

// newRootCmd creates and configures the root command. Configuration and the
// logger are built in PersistentPreRunE so every subcommand finds them in
// its context.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wikiharvest",
		Short: "Harvests and validates pages from an SSO-protected wiki",
		Long: `wikiharvest walks a wiki's page hierarchy through an authenticated
browser session, converts each page to markdown, and scores the harvested
records against an external reviewing agent before persisting the ones that
qualify.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load configuration: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), runtimeKey, &runtime{cfg: cfg, logger: logger})
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(runtimeKey).(*runtime); ok && rt != nil {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default reads WIKIHARVEST_* env vars only)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newValidateCmd())
	cmd.AddCommand(newInitDBCmd())

	return cmd
}

func resolveRuntime(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(runtimeKey).(*runtime)
	if !ok || rt == nil {
		return nil, fmt.Errorf("runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point. Interrupt signals cancel the command
// context so long crawls and validation runs checkpoint and exit cleanly.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
