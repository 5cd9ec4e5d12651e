// Package progress persists the validation pipeline's resumable checkpoint.
package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Detail is one per-record validation outcome, recorded regardless of
// whether the record passed.
type Detail struct {
	Index          int     `json:"index"`
	Title          string  `json:"title"`
	ID             string  `json:"id"`
	RelevanceScore float64 `json:"relevance_score"`
	CurrencyScore  float64 `json:"currency_score"`
	Passed         bool    `json:"passed"`
}

// Checkpoint is the flat progress file: the manifest position to resume
// from, plus a snapshot of the results so far. It is overwritten every few
// processed records and on interruption.
type Checkpoint struct {
	NextIndex int       `json:"next_index"`
	Timestamp time.Time `json:"timestamp"`
	Results   []Detail  `json:"results"`
}

// Save writes the checkpoint atomically (temp file + rename) so an interrupt
// mid-write never corrupts the resume point.
func Save(path string, cp Checkpoint) error {
	payload, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit checkpoint %s: %w", path, err)
	}
	return nil
}

// Load reads a checkpoint. The second return value reports whether a
// checkpoint file existed at all.
func Load(path string) (Checkpoint, bool, error) {
	payload, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(payload, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	return cp, true, nil
}
