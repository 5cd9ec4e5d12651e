package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/clock/system"
	"github.com/mkarlsen/wikiharvest/internal/config"
	"github.com/mkarlsen/wikiharvest/internal/crawler"
	"github.com/mkarlsen/wikiharvest/internal/fetcher/headless"
	"github.com/mkarlsen/wikiharvest/internal/metrics"
	"github.com/mkarlsen/wikiharvest/internal/normalize"
)

// newCrawlCmd creates and configures the 'crawl' subcommand. It signs into
// the wiki (or restores a saved session), walks the page hierarchy, and
// writes per-page files plus the manifest to the output directory.
func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walks the wiki hierarchy and saves each page",
		Long: `Opens an authenticated browser session against the configured wiki,
discovers every page through the hierarchy tree, converts each one to
markdown, and writes the pages plus a crawl manifest to the output
directory.`,

		RunE: runCrawlCommand,
	}
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	cfg, logger := rt.cfg, rt.logger

	fetcher, err := buildFetcher(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer fetcher.Close()

	orch, err := buildOrchestrator(cfg, fetcher, logger)
	if err != nil {
		return err
	}

	rootURL := cfg.Site.RootURL
	if rootURL == "" {
		rootURL = cfg.Site.BaseURL
	}

	records, err := orch.Crawl(cmd.Context(), rootURL)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("crawl: %w", err)
	}

	logger.Info("Crawl finished",
		zap.Int("pages", len(records)),
		zap.String("output_dir", cfg.Crawler.OutputDir))
	return nil
}

// buildFetcher starts the browser and authenticates, preferring a saved
// session over a fresh SSO round trip.
func buildFetcher(ctx context.Context, cfg config.Config, logger *zap.Logger) (*headless.Fetcher, error) {
	fetcher, err := headless.New(headless.Config{
		BaseURL:           cfg.Site.BaseURL,
		SessionFile:       cfg.Auth.SessionFile,
		UserAgent:         cfg.Headless.UserAgent,
		Headless:          cfg.Headless.Headless,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		AuthTimeout:       time.Duration(cfg.Headless.AuthTimeoutSec) * time.Second,
		ExpandWait:        time.Duration(cfg.Headless.ExpandWaitMs) * time.Millisecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init browser: %w", err)
	}

	restored, err := fetcher.RestoreSession(ctx)
	if err != nil {
		logger.Warn("Session restore failed, signing in fresh", zap.Error(err))
	}
	if !restored {
		if cfg.Auth.Email == "" || cfg.Auth.Password == "" {
			fetcher.Close()
			return nil, fmt.Errorf("no valid session and auth.email/auth.password are not set")
		}
		if err := fetcher.Authenticate(ctx, cfg.Auth.Email, cfg.Auth.Password); err != nil {
			fetcher.Close()
			return nil, fmt.Errorf("authenticate: %w", err)
		}
	}
	return fetcher, nil
}

func buildOrchestrator(cfg config.Config, fetcher *headless.Fetcher, logger *zap.Logger) (*crawler.Orchestrator, error) {
	sink, err := crawler.NewFileSystemSink(cfg.Crawler.OutputDir, cfg.Crawler.MaxTitleFilenameLen, logger)
	if err != nil {
		return nil, fmt.Errorf("init sink: %w", err)
	}

	extractor, err := crawler.NewLastModifiedExtractor(cfg.Crawler.LastModPatterns, cfg.LastModTimeout())
	if err != nil {
		return nil, fmt.Errorf("compile lastmod patterns: %w", err)
	}

	orch, err := crawler.NewOrchestrator(
		crawler.OrchestratorConfig{
			SiteOrigin:      cfg.Site.BaseURL,
			PolitenessDelay: cfg.PolitenessDelay(),
		},
		fetcher,
		fetcher,
		normalize.New(),
		extractor,
		sink,
		system.New(),
		metrics.New(),
		logger,
	)
	if err != nil {
		return nil, fmt.Errorf("init orchestrator: %w", err)
	}
	return orch, nil
}
