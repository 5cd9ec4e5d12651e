package crawler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/metrics"
)

// minPolitenessDelay bounds the request rate against the source site. A
// configured delay below this floor is raised to it.
const minPolitenessDelay = 2 * time.Second

// HierarchySource opens the root page's link-hierarchy container and exposes
// it for traversal. The live implementation drives the authenticated browser
// session.
type HierarchySource interface {
	NodeSource
	OpenHierarchy(ctx context.Context, rootURL string) ([]NodeRef, error)
}

// Normalizer is the pure markup-to-text contract consumed per page.
type Normalizer interface {
	NormalizeOrFallback(rawHTML, title string) string
}

// Sink persists per-page artifacts and the final manifest.
type Sink interface {
	SavePage(record PageRecord, rawHTML string) error
	WriteManifest(records []PageRecord) error
	WriteSummary(records []PageRecord, now time.Time) error
}

// OrchestratorConfig holds the crawl-session knobs.
type OrchestratorConfig struct {
	SiteOrigin      string
	PolitenessDelay time.Duration
}

// Orchestrator drives tree discovery, fetches and normalizes each discovered
// page, assembles the page records, writes them to disk incrementally, and
// emits the manifest.
type Orchestrator struct {
	cfg        OrchestratorConfig
	fetcher    Fetcher
	source     HierarchySource
	normalizer Normalizer
	lastmod    *LastModifiedExtractor
	sink       Sink
	clock      Clock
	pauser     pauseController
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewOrchestrator wires a crawl session. All collaborators are required
// except metrics, which may be nil.
func NewOrchestrator(
	cfg OrchestratorConfig,
	fetcher Fetcher,
	source HierarchySource,
	normalizer Normalizer,
	lastmod *LastModifiedExtractor,
	sink Sink,
	clock Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if fetcher == nil || source == nil || normalizer == nil || lastmod == nil || sink == nil || clock == nil {
		return nil, fmt.Errorf("all crawl collaborators are required")
	}
	if cfg.PolitenessDelay < minPolitenessDelay {
		cfg.PolitenessDelay = minPolitenessDelay
	}
	return &Orchestrator{
		cfg:        cfg,
		fetcher:    fetcher,
		source:     source,
		normalizer: normalizer,
		lastmod:    lastmod,
		sink:       sink,
		clock:      clock,
		pauser:     &timerPauseController{},
		metrics:    m,
		logger:     logger,
	}, nil
}

// Crawl discovers the page tree under rootURL and produces the manifest.
// Single-page failures are logged and skipped; only discovery failure or
// cancellation before any page is fetched aborts the crawl.
func (o *Orchestrator) Crawl(ctx context.Context, rootURL string) ([]PageRecord, error) {
	nodes, err := o.source.OpenHierarchy(ctx, rootURL)
	if err != nil {
		return nil, fmt.Errorf("open hierarchy at %s: %w", rootURL, err)
	}

	tree, err := NewTreeCrawler(o.source, o.cfg.SiteOrigin, o.logger)
	if err != nil {
		return nil, err
	}
	links, err := tree.Discover(ctx, nodes)
	if err != nil {
		return nil, err
	}
	o.logger.Info("Page tree discovered", zap.Int("pages", len(links)))

	records := make([]PageRecord, 0, len(links))
	seq := 0
	for i, link := range links {
		if ctx.Err() != nil {
			o.logger.Warn("Crawl interrupted, writing partial manifest",
				zap.Int("completed", len(records)), zap.Int("discovered", len(links)))
			break
		}

		record, err := o.crawlPage(ctx, link, seq)
		if err != nil {
			o.observeFailure()
			o.logger.Error("Page skipped", zap.String("title", link.Title),
				zap.String("url", link.URL), zap.Error(err))
			continue
		}

		records = append(records, record)
		seq++
		o.observeSuccess()
		o.logger.Info("Page crawled", zap.String("id", record.ID),
			zap.String("title", record.Title), zap.Int("content_bytes", len(record.Content)))

		if i < len(links)-1 {
			o.pauser.Pause(ctx, o.cfg.PolitenessDelay)
		}
	}

	if err := o.sink.WriteManifest(records); err != nil {
		return records, err
	}
	if err := o.sink.WriteSummary(records, o.clock.Now()); err != nil {
		return records, err
	}
	return records, nil
}

func (o *Orchestrator) crawlPage(ctx context.Context, link Link, seq int) (PageRecord, error) {
	page, err := o.fetcher.FetchPage(ctx, link.URL)
	if err != nil {
		return PageRecord{}, fmt.Errorf("fetch: %w", err)
	}

	record := PageRecord{
		ID:            fmt.Sprintf("%04d", seq),
		URL:           link.URL,
		Title:         link.Title,
		Content:       o.normalizer.NormalizeOrFallback(page.RawHTML, link.Title),
		Breadcrumbs:   strings.Join(page.Breadcrumbs, BreadcrumbSeparator),
		FormattedDate: FormatCaptureDate(o.clock.Now()),
		LastModified:  o.lastmod.Extract(ctx, page.RawHTML),
	}
	if record.Content == "" {
		return PageRecord{}, fmt.Errorf("empty content after fallback chain")
	}

	if err := o.sink.SavePage(record, page.RawHTML); err != nil {
		return PageRecord{}, fmt.Errorf("persist: %w", err)
	}
	return record, nil
}

func (o *Orchestrator) observeSuccess() {
	if o.metrics != nil {
		o.metrics.PagesCrawled.Inc()
	}
}

func (o *Orchestrator) observeFailure() {
	if o.metrics != nil {
		o.metrics.PagesFailed.Inc()
	}
}
