package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JakeFAU/pcspec-crawler/internal/store"
)

// RunStore is an in-memory store.RunRepository.
type RunStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]store.Run
	sources map[uuid.UUID]map[string]store.SourceStats
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore constructs an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs:    make(map[uuid.UUID]store.Run),
		sources: make(map[uuid.UUID]map[string]store.SourceStats),
	}
}

// UpsertRunStart records the run as running. Repeated calls keep the first
// start time.
func (s *RunStore) UpsertRunStart(_ context.Context, runID uuid.UUID, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.runs[runID]; ok {
		if run.StartedAt.IsZero() {
			run.StartedAt = startedAt
			s.runs[runID] = run
		}
		return nil
	}
	s.runs[runID] = store.Run{ID: runID, StartedAt: startedAt, Status: store.RunRunning}
	return nil
}

// CompleteRun sets the terminal status of a run.
func (s *RunStore) CompleteRun(
	_ context.Context,
	runID uuid.UUID,
	finishedAt time.Time,
	status store.RunStatus,
	errMsg *string,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.ErrNotFound
	}
	run.FinishedAt = pointerTime(finishedAt)
	run.Status = status
	run.ErrorMessage = errMsg
	s.runs[runID] = run
	return nil
}

// UpsertSourceStats adds delta to the source counters.
func (s *RunStore) UpsertSourceStats(
	_ context.Context,
	runID uuid.UUID,
	source string,
	delta store.SourceDelta,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.sourceLocked(runID, source)
	stats.Pages += delta.Pages
	stats.Failures += delta.Failures
	stats.Bytes += delta.Bytes
	stats.Records += delta.Records
	stats.Batches += delta.Batches
	stats.LastUpdate = at
	s.sources[runID][source] = stats
	return nil
}

// CompleteSource records the final status of one source.
func (s *RunStore) CompleteSource(
	_ context.Context,
	runID uuid.UUID,
	source string,
	status store.RunStatus,
	at time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.sourceLocked(runID, source)
	stats.Status = status
	stats.LastUpdate = at
	s.sources[runID][source] = stats
	return nil
}

// GetRun returns the run or store.ErrNotFound.
func (s *RunStore) GetRun(_ context.Context, runID uuid.UUID) (store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return store.Run{}, store.ErrNotFound
	}
	return run, nil
}

// ListSourceStats returns the run's sources ordered by name.
func (s *RunStore) ListSourceStats(_ context.Context, runID uuid.UUID) ([]store.SourceStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bySource := s.sources[runID]
	out := make([]store.SourceStats, 0, len(bySource))
	for _, stats := range bySource {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Source < out[j].Source })
	return out, nil
}

func (s *RunStore) sourceLocked(runID uuid.UUID, source string) store.SourceStats {
	bySource, ok := s.sources[runID]
	if !ok {
		bySource = make(map[string]store.SourceStats)
		s.sources[runID] = bySource
	}
	stats, ok := bySource[source]
	if !ok {
		stats = store.SourceStats{RunID: runID, Source: source}
	}
	return stats
}

func pointerTime(t time.Time) *time.Time {
	return &t
}
