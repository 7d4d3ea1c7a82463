package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("run record not found")

// RunStatus mirrors the crawl_runs status column.
type RunStatus string

// Run statuses persisted in crawl_runs.status.
const (
	RunRunning RunStatus = "running"
	RunSuccess RunStatus = "success"
	RunError   RunStatus = "error"
)

// Run models one crawl_runs row.
type Run struct {
	ID           uuid.UUID
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       RunStatus
	ErrorMessage *string
}

// SourceDelta is an increment applied to one source's counters.
type SourceDelta struct {
	Pages    int64
	Failures int64
	Bytes    int64
	Records  int64
	Batches  int64
}

// IsZero reports whether the delta changes nothing.
func (d SourceDelta) IsZero() bool {
	return d == SourceDelta{}
}

// SourceStats is the aggregate of one source within a run.
type SourceStats struct {
	RunID      uuid.UUID
	Source     string
	LastUpdate time.Time
	Pages      int64
	Failures   int64
	Bytes      int64
	Records    int64
	Batches    int64
	// Status is empty while the source is crawling, then success or error.
	Status RunStatus
}

// RunRepository persists incremental run progress.
type RunRepository interface {
	// UpsertRunStart inserts (or idempotently updates) the started_at timestamp.
	UpsertRunStart(ctx context.Context, runID uuid.UUID, startedAt time.Time) error
	// CompleteRun marks the run finished with the provided status and error.
	CompleteRun(ctx context.Context, runID uuid.UUID, finishedAt time.Time, status RunStatus, errMsg *string) error
	// UpsertSourceStats applies counter deltas per (run, source).
	UpsertSourceStats(ctx context.Context, runID uuid.UUID, source string, delta SourceDelta, at time.Time) error
	// CompleteSource records the final status of one source.
	CompleteSource(ctx context.Context, runID uuid.UUID, source string, status RunStatus, at time.Time) error
	// GetRun loads a single run or returns ErrNotFound.
	GetRun(ctx context.Context, runID uuid.UUID) (Run, error)
	// ListSourceStats returns per-source aggregates for one run.
	ListSourceStats(ctx context.Context, runID uuid.UUID) ([]SourceStats, error)
}
