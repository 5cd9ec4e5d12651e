package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mkarlsen/wikiharvest/internal/crawler"
	"github.com/mkarlsen/wikiharvest/internal/progress"
	"github.com/mkarlsen/wikiharvest/internal/scoring"
	"github.com/mkarlsen/wikiharvest/internal/store"
)

// scriptedScorer returns per-URL results, an error for unknown URLs, and can
// cancel the run context after a fixed number of calls.
type scriptedScorer struct {
	mu          sync.Mutex
	results     map[string]scoring.ScoreResult
	calls       int
	cancelAfter int
	cancel      context.CancelFunc
}

func (s *scriptedScorer) Score(_ context.Context, record crawler.PageRecord) (scoring.ScoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.cancel != nil && s.calls >= s.cancelAfter {
		s.cancel()
	}
	result, ok := s.results[record.URL]
	if !ok {
		return scoring.ScoreResult{}, fmt.Errorf("%w: scripted failure", scoring.ErrScoreUnavailable)
	}
	return result, nil
}

// interruptingScorer cancels the run context while scoring the record at
// cancelIndex and returns the cancellation, as a real client does when the
// user interrupts mid-request.
type interruptingScorer struct {
	results     map[string]scoring.ScoreResult
	cancelIndex int
	calls       int
	cancel      context.CancelFunc
}

func (s *interruptingScorer) Score(ctx context.Context, record crawler.PageRecord) (scoring.ScoreResult, error) {
	index := s.calls
	s.calls++
	if index == s.cancelIndex {
		s.cancel()
		return scoring.ScoreResult{}, ctx.Err()
	}
	return s.results[record.URL], nil
}

type memoryStore struct {
	mu        sync.Mutex
	entries   map[string]store.ValidatedEntry
	upsertErr error
	upserts   int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]store.ValidatedEntry)}
}

func (m *memoryStore) Upsert(_ context.Context, entry store.ValidatedEntry) (store.ValidatedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return store.ValidatedEntry{}, m.upsertErr
	}
	m.upserts++
	m.entries[entry.URL] = entry
	return entry, nil
}

func (m *memoryStore) GetByURL(_ context.Context, url string) (*store.ValidatedEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[url]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }
func (m *memoryStore) Close()                     {}

type fixedHasher struct{}

func (fixedHasher) Hash(data []byte) string { return fmt.Sprintf("hash-%d", len(data)) }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func manifestOf(n int) []crawler.PageRecord {
	records := make([]crawler.PageRecord, n)
	for i := range records {
		records[i] = crawler.PageRecord{
			ID:            fmt.Sprintf("%04d", i),
			URL:           fmt.Sprintf("https://wiki.corp.example/pages/%d", i),
			Title:         fmt.Sprintf("Page %d", i),
			Content:       "content",
			FormattedDate: "03/07/25",
		}
	}
	return records
}

func newTestPipeline(t *testing.T, scorer Scorer, validated store.ValidatedStore, cfg Config) *Pipeline {
	t.Helper()
	if cfg.CheckpointPath == "" {
		cfg.CheckpointPath = filepath.Join(t.TempDir(), "checkpoint.json")
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = t.TempDir()
	}
	p, err := New(cfg, scorer, validated,
		fixedHasher{},
		fixedClock{now: time.Date(2025, time.March, 7, 12, 0, 0, 0, time.UTC)},
		nil,
		zap.NewNop(),
	)
	require.NoError(t, err)
	return p
}

func TestPipeline_ThresholdPolicy(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(4)
	scorer := &scriptedScorer{results: map[string]scoring.ScoreResult{
		manifest[0].URL: {Relevance: 0.80, Currency: 1.0},  // exactly at both thresholds: pass
		manifest[1].URL: {Relevance: 0.79, Currency: 1.0},  // relevance below: fail
		manifest[2].URL: {Relevance: 0.95, Currency: 0.99}, // currency below max: fail
		manifest[3].URL: {Relevance: 1.0, Currency: 1.0},   // pass
	}}
	validated := newMemoryStore()

	p := newTestPipeline(t, scorer, validated, Config{})
	summary, err := p.Run(context.Background(), manifest, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 2, summary.Validated)
	assert.Equal(t, 2, summary.Saved)
	assert.Zero(t, summary.Errors)
	assert.Equal(t, 2, validated.upserts)

	saved, err := validated.GetByURL(context.Background(), manifest[0].URL)
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.True(t, saved.IsCurrent)
	assert.InDelta(t, 0.80, saved.RelevanceScore, 1e-9)
}

func TestPipeline_ScoreErrorCountsAndContinues(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(3)
	scorer := &scriptedScorer{results: map[string]scoring.ScoreResult{
		manifest[0].URL: {Relevance: 0.9, Currency: 1.0},
		// manifest[1] has no scripted result and fails.
		manifest[2].URL: {Relevance: 0.9, Currency: 1.0},
	}}
	validated := newMemoryStore()

	p := newTestPipeline(t, scorer, validated, Config{})
	summary, err := p.Run(context.Background(), manifest, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.Errors)
	assert.Equal(t, 2, summary.Saved)
}

func TestPipeline_ResumesFromStartIndex(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(20)
	results := make(map[string]scoring.ScoreResult, len(manifest))
	for _, r := range manifest {
		results[r.URL] = scoring.ScoreResult{Relevance: 0.9, Currency: 1.0}
	}
	scorer := &scriptedScorer{results: results}
	validated := newMemoryStore()

	p := newTestPipeline(t, scorer, validated, Config{})
	summary, err := p.Run(context.Background(), manifest, 7, 0)
	require.NoError(t, err)

	assert.Equal(t, 7, summary.Skipped)
	assert.Equal(t, 13, summary.Processed)
	assert.Equal(t, 13, validated.upserts)

	// Records before the start index were never touched.
	before, err := validated.GetByURL(context.Background(), manifest[0].URL)
	require.NoError(t, err)
	assert.Nil(t, before)
}

func TestPipeline_BatchSizeCapsRun(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(20)
	results := make(map[string]scoring.ScoreResult, len(manifest))
	for _, r := range manifest {
		results[r.URL] = scoring.ScoreResult{Relevance: 0.9, Currency: 1.0}
	}
	scorer := &scriptedScorer{results: results}

	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	p := newTestPipeline(t, scorer, newMemoryStore(), Config{CheckpointPath: checkpointPath})

	summary, err := p.Run(context.Background(), manifest, 5, 4)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.Processed)

	cp, exists, err := progress.Load(checkpointPath)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, 9, cp.NextIndex)
	assert.Len(t, cp.Results, 4)
}

func TestPipeline_InterruptCheckpointsImmediately(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(10)
	results := make(map[string]scoring.ScoreResult, len(manifest))
	for _, r := range manifest {
		results[r.URL] = scoring.ScoreResult{Relevance: 0.9, Currency: 1.0}
	}

	ctx, cancel := context.WithCancel(context.Background())
	scorer := &scriptedScorer{results: results, cancelAfter: 3, cancel: cancel}

	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	p := newTestPipeline(t, scorer, newMemoryStore(), Config{CheckpointPath: checkpointPath})

	summary, err := p.Run(ctx, manifest, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, summary.Processed)

	cp, exists, err := progress.Load(checkpointPath)
	require.NoError(t, err)
	require.True(t, exists)
	// The next run picks up exactly after the last processed record.
	assert.Equal(t, 3, cp.NextIndex)
}

func TestPipeline_InterruptMidScoreResumesAtSameRecord(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(5)
	results := make(map[string]scoring.ScoreResult, len(manifest))
	for _, r := range manifest {
		results[r.URL] = scoring.ScoreResult{Relevance: 0.9, Currency: 1.0}
	}

	ctx, cancel := context.WithCancel(context.Background())
	scorer := &interruptingScorer{results: results, cancelIndex: 2, cancel: cancel}

	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	p := newTestPipeline(t, scorer, newMemoryStore(), Config{CheckpointPath: checkpointPath})

	summary, err := p.Run(ctx, manifest, 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	// The interrupted record is neither processed nor counted as an error.
	assert.Equal(t, 2, summary.Processed)
	assert.Zero(t, summary.Errors)

	cp, exists, err := progress.Load(checkpointPath)
	require.NoError(t, err)
	require.True(t, exists)
	// The next run re-scores the record the interrupt landed on.
	assert.Equal(t, 2, cp.NextIndex)
}

func TestPipeline_UpsertFailureCountsAsError(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(1)
	scorer := &scriptedScorer{results: map[string]scoring.ScoreResult{
		manifest[0].URL: {Relevance: 0.9, Currency: 1.0},
	}}
	validated := newMemoryStore()
	validated.upsertErr = errors.New("connection refused")

	p := newTestPipeline(t, scorer, validated, Config{})
	summary, err := p.Run(context.Background(), manifest, 0, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Validated)
	assert.Zero(t, summary.Saved)
	assert.Equal(t, 1, summary.Errors)
}

func TestPipeline_SavePropagatesLastModified(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(1)
	manifest[0].Breadcrumbs = "Home > Docs"
	manifest[0].LastModified = &crawler.LastModified{User: "Dana Reyes", Date: "Mar 1, 2025"}
	scorer := &scriptedScorer{results: map[string]scoring.ScoreResult{
		manifest[0].URL: {Relevance: 0.9, Currency: 1.0},
	}}
	validated := newMemoryStore()

	p := newTestPipeline(t, scorer, validated, Config{})
	_, err := p.Run(context.Background(), manifest, 0, 0)
	require.NoError(t, err)

	saved, err := validated.GetByURL(context.Background(), manifest[0].URL)
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.NotNil(t, saved.LastModified)
	assert.Equal(t, "Mar 1, 2025", *saved.LastModified)
	assert.Equal(t, "Dana Reyes", saved.Metadata["last_modified_by"])
	assert.Equal(t, "Home > Docs", saved.Metadata["breadcrumbs"])
}

func TestPipeline_WritesResultsFile(t *testing.T) {
	t.Parallel()

	manifest := manifestOf(2)
	scorer := &scriptedScorer{results: map[string]scoring.ScoreResult{
		manifest[0].URL: {Relevance: 0.9, Currency: 1.0},
		manifest[1].URL: {Relevance: 0.1, Currency: 1.0},
	}}

	resultsDir := t.TempDir()
	p := newTestPipeline(t, scorer, newMemoryStore(), Config{ResultsDir: resultsDir})

	_, err := p.Run(context.Background(), manifest, 0, 0)
	require.NoError(t, err)

	entries, err := os.ReadDir(resultsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "validation_results_")

	payload, err := os.ReadFile(filepath.Join(resultsDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"run_id"`)
	assert.Contains(t, string(payload), `"passed": true`)
	assert.Contains(t, string(payload), `"passed": false`)
}

func TestPipeline_RejectsOutOfRangeStartIndex(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, &scriptedScorer{}, newMemoryStore(), Config{})
	_, err := p.Run(context.Background(), manifestOf(3), 5, 0)
	require.Error(t, err)
}
