// Package postgres provides the Postgres-backed validated-page store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mkarlsen/wikiharvest/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// defaultTable is the validated-pages table name when none is configured.
const defaultTable = "validated_pages"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// pgxPool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type pgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ValidatedStore implements store.ValidatedStore on Postgres.
type ValidatedStore struct {
	pool  pgxPool
	table string
}

// New connects a pool and verifies connectivity before returning; a store
// that cannot be reached at all aborts the run early.
func New(ctx context.Context, cfg Config) (*ValidatedStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &ValidatedStore{pool: pool, table: table}
	if err := s.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for tests).
func NewWithPool(pool pgxPool, table string) (*ValidatedStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ValidatedStore{pool: pool, table: table}, nil
}

// Close releases the pool.
func (s *ValidatedStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping probes store connectivity.
func (s *ValidatedStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	return nil
}

const upsertColumns = `url, title, content_hash, last_modified, validation_timestamp,
	relevance_score, currency_score, is_current, metadata`

// Upsert inserts the entry or updates the existing row for the same URL.
// A duplicate key is never a failure; it resolves to an update in place.
func (s *ValidatedStore) Upsert(ctx context.Context, entry store.ValidatedEntry) (store.ValidatedEntry, error) {
	if entry.URL == "" {
		return store.ValidatedEntry{}, fmt.Errorf("entry url is required")
	}
	metadataJSON, err := json.Marshal(entry.Metadata)
	if err != nil {
		return store.ValidatedEntry{}, fmt.Errorf("marshal metadata: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (url) DO UPDATE SET
	title = EXCLUDED.title,
	content_hash = EXCLUDED.content_hash,
	last_modified = EXCLUDED.last_modified,
	validation_timestamp = EXCLUDED.validation_timestamp,
	relevance_score = EXCLUDED.relevance_score,
	currency_score = EXCLUDED.currency_score,
	is_current = EXCLUDED.is_current,
	metadata = EXCLUDED.metadata
RETURNING %s`, s.table, upsertColumns, upsertColumns)

	row := s.pool.QueryRow(ctx, query,
		entry.URL,
		entry.Title,
		entry.ContentHash,
		entry.LastModified,
		entry.ValidationTimestamp,
		entry.RelevanceScore,
		entry.CurrencyScore,
		entry.IsCurrent,
		metadataJSON,
	)
	written, err := scanEntry(row)
	if err != nil {
		return store.ValidatedEntry{}, fmt.Errorf("upsert validated entry: %w", err)
	}
	return *written, nil
}

// GetByURL returns the live entry for url, or nil when absent.
func (s *ValidatedStore) GetByURL(ctx context.Context, url string) (*store.ValidatedEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE url = $1`, upsertColumns, s.table)
	entry, err := scanEntry(s.pool.QueryRow(ctx, query, url))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get validated entry: %w", err)
	}
	return entry, nil
}

// CreateSchema creates the validated-pages table when it does not exist.
func (s *ValidatedStore) CreateSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	url TEXT NOT NULL UNIQUE,
	title TEXT,
	content_hash TEXT,
	last_modified TEXT,
	validation_timestamp TIMESTAMPTZ NOT NULL,
	relevance_score DOUBLE PRECISION NOT NULL,
	currency_score DOUBLE PRECISION NOT NULL,
	is_current BOOLEAN NOT NULL DEFAULT TRUE,
	metadata JSONB
)`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func scanEntry(row pgx.Row) (*store.ValidatedEntry, error) {
	var (
		entry        store.ValidatedEntry
		metadataJSON []byte
	)
	if err := row.Scan(
		&entry.URL,
		&entry.Title,
		&entry.ContentHash,
		&entry.LastModified,
		&entry.ValidationTimestamp,
		&entry.RelevanceScore,
		&entry.CurrencyScore,
		&entry.IsCurrent,
		&metadataJSON,
	); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
			return nil, fmt.Errorf("parse metadata: %w", err)
		}
	}
	return &entry, nil
}
