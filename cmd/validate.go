package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/clock/system"
	"github.com/mkarlsen/wikiharvest/internal/crawler"
	"github.com/mkarlsen/wikiharvest/internal/hash/sha256"
	"github.com/mkarlsen/wikiharvest/internal/metrics"
	"github.com/mkarlsen/wikiharvest/internal/pipeline"
	"github.com/mkarlsen/wikiharvest/internal/progress"
	"github.com/mkarlsen/wikiharvest/internal/scoring"
	"github.com/mkarlsen/wikiharvest/internal/store/postgres"
)

// newValidateCmd creates and configures the 'validate' subcommand. It scores
// the crawl manifest against the external agent, applies the thresholds, and
// upserts qualifying records into the database. Interrupted runs resume from
// the last checkpoint.
func newValidateCmd() *cobra.Command {
	var (
		manifestPath string
		batchSize    int
		fresh        bool
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Scores crawled pages and saves the ones that qualify",
		Long: `Reads the crawl manifest, asks the configured reviewing agent to score
each page for relevance and currency, and upserts records that clear both
thresholds into the validated pages table. Progress is checkpointed so an
interrupted run resumes where it left off.`,

		RunE: func(cmd *cobra.Command, _ []string) error {
			return runValidateCommand(cmd, manifestPath, batchSize, fresh)
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "crawl manifest path (default <output_dir>/manifest.json)")
	cmd.Flags().IntVar(&batchSize, "batch", 0, "maximum records to process this run (0 = all remaining)")
	cmd.Flags().BoolVar(&fresh, "fresh", false, "ignore any existing checkpoint and start from the beginning")
	return cmd
}

func runValidateCommand(cmd *cobra.Command, manifestPath string, batchSize int, fresh bool) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	if manifestPath == "" {
		manifestPath = filepath.Join(cfg.Crawler.OutputDir, crawler.ManifestFilename)
	}
	manifest, err := crawler.ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	logger.Info("Manifest loaded", zap.String("path", manifestPath), zap.Int("records", len(manifest)))

	startIndex := 0
	if !fresh {
		checkpoint, exists, err := progress.Load(cfg.Pipeline.CheckpointPath)
		if err != nil {
			return fmt.Errorf("load checkpoint: %w", err)
		}
		if exists {
			startIndex = checkpoint.NextIndex
			logger.Info("Resuming from checkpoint",
				zap.Int("next_index", startIndex),
				zap.Time("saved_at", checkpoint.Timestamp))
		}
	}
	if startIndex >= len(manifest) {
		logger.Info("Nothing to do, manifest already fully processed",
			zap.Int("records", len(manifest)))
		return nil
	}

	m := metrics.New()
	scorer, err := scoring.New(scoring.Config{
		BaseURL:           cfg.Scoring.BaseURL,
		AgentID:           cfg.Scoring.AgentID,
		APIKey:            cfg.Scoring.APIKey,
		MinInterval:       time.Duration(cfg.Scoring.MinIntervalSec) * time.Second,
		MaxAttempts:       cfg.Scoring.MaxAttempts,
		BackoffBase:       time.Duration(cfg.Scoring.BackoffBaseSec) * time.Second,
		BackoffMultiplier: cfg.Scoring.BackoffMultiplier,
		MaxContentChars:   cfg.Scoring.MaxContentChars,
		RequestTimeout:    time.Duration(cfg.Scoring.TimeoutSeconds) * time.Second,
	}, m, logger)
	if err != nil {
		return fmt.Errorf("init scoring client: %w", err)
	}

	validated, err := postgres.New(cmd.Context(), postgres.Config{
		DSN:   cfg.DB.DSN,
		Table: cfg.DB.Table,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer validated.Close()

	pipe, err := pipeline.New(
		pipeline.Config{
			RelevanceThreshold: cfg.Pipeline.RelevanceThreshold,
			CurrencyThreshold:  cfg.Pipeline.CurrencyThreshold,
			CheckpointPath:     cfg.Pipeline.CheckpointPath,
			CheckpointEvery:    cfg.Pipeline.CheckpointEvery,
			ResultsDir:         cfg.Pipeline.ResultsDir,
		},
		scorer,
		validated,
		sha256.New(),
		system.New(),
		m,
		logger,
	)
	if err != nil {
		return fmt.Errorf("init pipeline: %w", err)
	}

	if batchSize == 0 {
		batchSize = cfg.Pipeline.BatchSize
	}
	summary, err := pipe.Run(cmd.Context(), manifest, startIndex, batchSize)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("validate: %w", err)
	}

	logger.Info("Validation finished",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("validated", summary.Validated),
		zap.Int("saved", summary.Saved),
		zap.Int("errors", summary.Errors))
	return nil
}
