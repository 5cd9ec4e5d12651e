package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/store/postgres"
)

// newInitDBCmd creates the 'initdb' subcommand, which creates the validated
// pages table if it does not exist.
func newInitDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Creates the validated pages schema",

		RunE: runInitDBCommand,
	}
	return cmd
}

func runInitDBCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	validated, err := postgres.New(cmd.Context(), postgres.Config{
		DSN:   cfg.DB.DSN,
		Table: cfg.DB.Table,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer validated.Close()

	if err := validated.CreateSchema(cmd.Context()); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	logger.Info("Schema ready", zap.String("table", cfg.DB.Table))
	return nil
}
