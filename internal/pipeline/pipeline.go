// Package pipeline iterates a crawl manifest, scores each record via the
// external agent, applies the threshold policy, and upserts qualifying
// records with resumable checkpointing.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/crawler"
	"github.com/mkarlsen/wikiharvest/internal/metrics"
	"github.com/mkarlsen/wikiharvest/internal/progress"
	"github.com/mkarlsen/wikiharvest/internal/scoring"
	"github.com/mkarlsen/wikiharvest/internal/store"
)

// Threshold defaults. A record passes only when both scores clear their
// threshold; currency demands the maximum score.
const (
	DefaultRelevanceThreshold = 0.80
	DefaultCurrencyThreshold  = 1.0
	defaultCheckpointEvery    = 10
)

// Scorer turns one page record into two confidence scores.
type Scorer interface {
	Score(ctx context.Context, record crawler.PageRecord) (scoring.ScoreResult, error)
}

// Hasher fingerprints content for change detection.
type Hasher interface {
	Hash(data []byte) string
}

// Config controls one validation run.
type Config struct {
	RelevanceThreshold float64
	CurrencyThreshold  float64
	CheckpointPath     string
	CheckpointEvery    int
	ResultsDir         string
}

// Summary is the batch-level outcome report.
type Summary struct {
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Validated int `json:"validated"`
	Saved     int `json:"saved"`
	Errors    int `json:"errors"`
}

// Pipeline runs the validation loop. Each instance carries a unique run id
// that tags its log lines and results file.
type Pipeline struct {
	cfg     Config
	runID   string
	scorer  Scorer
	store   store.ValidatedStore
	hasher  Hasher
	clock   crawler.Clock
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// New wires a validation pipeline. Metrics may be nil.
func New(
	cfg Config,
	scorer Scorer,
	validated store.ValidatedStore,
	hasher Hasher,
	clock crawler.Clock,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Pipeline, error) {
	if scorer == nil || validated == nil || hasher == nil || clock == nil {
		return nil, fmt.Errorf("all pipeline collaborators are required")
	}
	if cfg.RelevanceThreshold <= 0 {
		cfg.RelevanceThreshold = DefaultRelevanceThreshold
	}
	if cfg.CurrencyThreshold <= 0 {
		cfg.CurrencyThreshold = DefaultCurrencyThreshold
	}
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = defaultCheckpointEvery
	}
	runID := uuid.NewString()
	return &Pipeline{
		cfg:     cfg,
		runID:   runID,
		scorer:  scorer,
		store:   validated,
		hasher:  hasher,
		clock:   clock,
		metrics: m,
		logger:  logger.With(zap.String("run_id", runID)),
	}, nil
}

// Run processes manifest records from startIndex, optionally capped at
// batchSize (0 means no cap). Cancellation between iterations triggers an
// immediate checkpoint write so a later run resumes exactly where this one
// stopped.
func (p *Pipeline) Run(ctx context.Context, manifest []crawler.PageRecord, startIndex, batchSize int) (Summary, error) {
	if startIndex < 0 || startIndex > len(manifest) {
		return Summary{}, fmt.Errorf("start index %d out of range for manifest of %d", startIndex, len(manifest))
	}
	end := len(manifest)
	if batchSize > 0 && startIndex+batchSize < end {
		end = startIndex + batchSize
	}

	summary := Summary{Skipped: startIndex}
	details := make([]progress.Detail, 0, end-startIndex)
	interrupted := false

	for i := startIndex; i < end; i++ {
		if ctx.Err() != nil {
			p.checkpoint(i, details)
			interrupted = true
			break
		}

		record := manifest[i]
		detail, err := p.processRecord(ctx, i, record, &summary)
		if err != nil {
			// Cancellation landed mid-record. Checkpoint at this index so
			// the next run scores it again instead of skipping past it.
			p.checkpoint(i, details)
			interrupted = true
			break
		}
		details = append(details, detail)
		summary.Processed++

		if (summary.Processed)%p.cfg.CheckpointEvery == 0 {
			p.checkpoint(i+1, details)
		}
	}

	if !interrupted {
		p.checkpoint(end, details)
	}
	if err := p.writeResults(summary, details); err != nil {
		p.logger.Error("Could not write results file", zap.Error(err))
	}

	p.logger.Info("Validation run finished",
		zap.Int("processed", summary.Processed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("validated", summary.Validated),
		zap.Int("saved", summary.Saved),
		zap.Int("errors", summary.Errors),
		zap.Bool("interrupted", interrupted))

	if interrupted {
		return summary, ctx.Err()
	}
	return summary, nil
}

// processRecord scores, gates, and saves one record. It returns a non-nil
// error only when the run context was canceled mid-record; every other
// failure is absorbed into the summary so the loop continues.
func (p *Pipeline) processRecord(ctx context.Context, index int, record crawler.PageRecord, summary *Summary) (progress.Detail, error) {
	detail := progress.Detail{Index: index, Title: record.Title, ID: record.ID}

	result, err := p.scorer.Score(ctx, record)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return detail, err
		}
		summary.Errors++
		p.observe(func(m *metrics.Metrics) { m.RecordErrors.Inc() })
		p.logger.Warn("No score for record", zap.Int("index", index),
			zap.String("title", record.Title), zap.Error(err))
		return detail, nil
	}
	p.observe(func(m *metrics.Metrics) { m.RecordsScored.Inc() })

	detail.RelevanceScore = result.Relevance
	detail.CurrencyScore = result.Currency
	detail.Passed = result.Relevance >= p.cfg.RelevanceThreshold && result.Currency >= p.cfg.CurrencyThreshold
	if !detail.Passed {
		return detail, nil
	}

	summary.Validated++
	p.observe(func(m *metrics.Metrics) { m.RecordsValidated.Inc() })

	if err := p.save(ctx, record, result); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return detail, err
		}
		summary.Errors++
		p.observe(func(m *metrics.Metrics) { m.RecordErrors.Inc() })
		p.logger.Error("Upsert failed", zap.String("url", record.URL), zap.Error(err))
		return detail, nil
	}
	summary.Saved++
	p.observe(func(m *metrics.Metrics) { m.RecordsSaved.Inc() })
	return detail, nil
}

func (p *Pipeline) save(ctx context.Context, record crawler.PageRecord, result scoring.ScoreResult) error {
	entry := store.ValidatedEntry{
		URL:                 record.URL,
		Title:               record.Title,
		ContentHash:         p.hasher.Hash([]byte(record.Content)),
		ValidationTimestamp: p.clock.Now(),
		RelevanceScore:      result.Relevance,
		CurrencyScore:       result.Currency,
		IsCurrent:           true,
		Metadata: map[string]any{
			"id":             record.ID,
			"breadcrumbs":    record.Breadcrumbs,
			"formatted_date": record.FormattedDate,
		},
	}
	if record.LastModified != nil {
		date := record.LastModified.Date
		entry.LastModified = &date
		entry.Metadata["last_modified_by"] = record.LastModified.User
	}
	_, err := p.store.Upsert(ctx, entry)
	return err
}

func (p *Pipeline) checkpoint(nextIndex int, details []progress.Detail) {
	if p.cfg.CheckpointPath == "" {
		return
	}
	cp := progress.Checkpoint{
		NextIndex: nextIndex,
		Timestamp: p.clock.Now(),
		Results:   details,
	}
	if err := progress.Save(p.cfg.CheckpointPath, cp); err != nil {
		p.logger.Error("Checkpoint write failed", zap.Int("next_index", nextIndex), zap.Error(err))
	}
}

// writeResults persists the summary and per-record details to a timestamped
// results file alongside the checkpoint.
func (p *Pipeline) writeResults(summary Summary, details []progress.Detail) error {
	if p.cfg.ResultsDir == "" {
		return nil
	}
	if err := os.MkdirAll(p.cfg.ResultsDir, 0o750); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}
	payload, err := json.MarshalIndent(struct {
		RunID   string            `json:"run_id"`
		Summary Summary           `json:"summary"`
		Results []progress.Detail `json:"results"`
	}{p.runID, summary, details}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	name := fmt.Sprintf("validation_results_%s.json", p.clock.Now().Format("20060102_150405"))
	target := filepath.Join(p.cfg.ResultsDir, name)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write results %s: %w", target, err)
	}
	return nil
}

func (p *Pipeline) observe(fn func(*metrics.Metrics)) {
	if p.metrics != nil {
		fn(p.metrics)
	}
}
