// Package store defines the persistence contract for validated pages. The
// interface decouples the pipeline from the Postgres implementation so tests
// can run against a mock.
package store

import (
	"context"
	"time"
)

// ValidatedEntry is one persisted validation result. At most one live entry
// exists per URL; re-validation updates the existing row.
type ValidatedEntry struct {
	URL                 string
	Title               string
	ContentHash         string
	LastModified        *string
	ValidationTimestamp time.Time
	RelevanceScore      float64
	CurrencyScore       float64
	IsCurrent           bool
	Metadata            map[string]any
}

// ValidatedStore persists validation outcomes keyed by URL.
type ValidatedStore interface {
	// Upsert inserts the entry or, when the URL already exists, updates the
	// scores, timestamp, hash, and metadata in place. It returns the row as
	// written.
	Upsert(ctx context.Context, entry ValidatedEntry) (ValidatedEntry, error)

	// GetByURL returns the live entry for url, or nil when absent.
	GetByURL(ctx context.Context, url string) (*ValidatedEntry, error)

	// Ping probes store connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connection resources.
	Close()
}
