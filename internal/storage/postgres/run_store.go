// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/pcspec-crawler/internal/store"
)

//go:embed schema.sql
var schema string

// Config controls the Postgres connection pool used for run progress.
type Config struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// RunStore implements store.RunRepository on the crawl_runs and
// crawl_source_stats tables.
type RunStore struct {
	pool pool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects to Postgres using cfg.
func NewRunStore(ctx context.Context, cfg Config) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: p}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(p pool) (*RunStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &RunStore{pool: p}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the progress tables when they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// UpsertRunStart inserts the run row or leaves an existing one untouched.
func (s *RunStore) UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error {
	query := `
		INSERT INTO crawl_runs (id, started_at, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING;
	`
	if _, err := s.pool.Exec(ctx, query, runID, startedAt, store.RunRunning); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional error message.
func (s *RunStore) CompleteRun(
	ctx context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	query := `
		UPDATE crawl_runs
		SET finished_at = $1, status = $2, error_message = $3
		WHERE id = $4;
	`
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// UpsertSourceStats adds delta to the (run, source) counters.
func (s *RunStore) UpsertSourceStats(
	ctx context.Context,
	runID uuid.UUID,
	source string,
	delta store.SourceDelta,
	at time.Time,
) error {
	query := `
		INSERT INTO crawl_source_stats (run_id, source, last_update, pages, failures, bytes_total, records, batches)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, source) DO UPDATE SET
			last_update = EXCLUDED.last_update,
			pages = crawl_source_stats.pages + EXCLUDED.pages,
			failures = crawl_source_stats.failures + EXCLUDED.failures,
			bytes_total = crawl_source_stats.bytes_total + EXCLUDED.bytes_total,
			records = crawl_source_stats.records + EXCLUDED.records,
			batches = crawl_source_stats.batches + EXCLUDED.batches;
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		runID,
		source,
		at,
		delta.Pages,
		delta.Failures,
		delta.Bytes,
		delta.Records,
		delta.Batches,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert source stats: %w", err)
	}
	return nil
}

// CompleteSource records the final status of one source.
func (s *RunStore) CompleteSource(
	ctx context.Context,
	runID uuid.UUID,
	source string,
	status store.RunStatus,
	at time.Time,
) error {
	query := `
		INSERT INTO crawl_source_stats (run_id, source, last_update, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (run_id, source) DO UPDATE SET
			last_update = EXCLUDED.last_update,
			status = EXCLUDED.status;
	`
	if _, err := s.pool.Exec(ctx, query, runID, source, at, status); err != nil {
		return fmt.Errorf("failed to complete source: %w", err)
	}
	return nil
}

// GetRun retrieves a single run by its ID.
func (s *RunStore) GetRun(ctx context.Context, runID uuid.UUID) (store.Run, error) {
	query := `
		SELECT id, started_at, finished_at, status, error_message
		FROM crawl_runs
		WHERE id = $1;
	`
	var run store.Run
	err := s.pool.QueryRow(ctx, query, runID).Scan(
		&run.ID,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Status,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListSourceStats returns the run's per-source aggregates ordered by source.
func (s *RunStore) ListSourceStats(ctx context.Context, runID uuid.UUID) ([]store.SourceStats, error) {
	query := `
		SELECT run_id, source, last_update, pages, failures, bytes_total, records, batches, COALESCE(status, '')
		FROM crawl_source_stats
		WHERE run_id = $1
		ORDER BY source;
	`
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list source stats: %w", err)
	}
	defer rows.Close()

	var stats []store.SourceStats
	for rows.Next() {
		var stat store.SourceStats
		err := rows.Scan(
			&stat.RunID,
			&stat.Source,
			&stat.LastUpdate,
			&stat.Pages,
			&stat.Failures,
			&stat.Bytes,
			&stat.Records,
			&stat.Batches,
			&stat.Status,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source stats row: %w", err)
		}
		stats = append(stats, stat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate source stats: %w", err)
	}
	return stats, nil
}
