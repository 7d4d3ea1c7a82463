package sinks

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/progress"
	"github.com/JakeFAU/pcspec-crawler/internal/store"
)

// StoreSink persists progress deltas via a store.RunRepository. Counters are
// collapsed per (run, source) within a batch to reduce write amplification.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for the provided repository.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

// Consume collapses source deltas and forwards them to the repository. It
// respects ctx deadlines and returns any repository errors wrapped.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[statsKey]*statsDelta)
	var completions []progress.Event

	for _, evt := range batch {
		runID := evt.RunUUID()
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, runID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone, progress.StageRunError:
			completions = append(completions, evt)
		case progress.StageSourceDone, progress.StageSourceError:
			completions = append(completions, evt)
		case progress.StageFetchDone, progress.StageFetchError, progress.StageBatchFlushed:
			recordDelta(deltas, runID, evt)
		}
	}

	for key, delta := range deltas {
		if delta.d.IsZero() {
			continue
		}
		if err := s.repo.UpsertSourceStats(ctx, key.runID, key.source, delta.d, delta.at); err != nil {
			return fmt.Errorf("upsert source stats: %w", err)
		}
	}

	for _, evt := range completions {
		if err := s.complete(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (s *StoreSink) complete(ctx context.Context, evt progress.Event) error {
	runID := evt.RunUUID()
	switch evt.Stage {
	case progress.StageSourceDone:
		if err := s.repo.CompleteSource(ctx, runID, evt.Source, store.RunSuccess, evt.TS); err != nil {
			return fmt.Errorf("complete source: %w", err)
		}
	case progress.StageSourceError:
		if err := s.repo.CompleteSource(ctx, runID, evt.Source, store.RunError, evt.TS); err != nil {
			return fmt.Errorf("complete source: %w", err)
		}
	case progress.StageRunDone:
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunSuccess, nil); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	case progress.StageRunError:
		var note *string
		if evt.Note != "" {
			note = &evt.Note
		}
		if err := s.repo.CompleteRun(ctx, runID, evt.TS, store.RunError, note); err != nil {
			return fmt.Errorf("complete run: %w", err)
		}
	}
	return nil
}

func recordDelta(deltas map[statsKey]*statsDelta, runID uuid.UUID, evt progress.Event) {
	if evt.Source == "" {
		return
	}
	key := statsKey{runID: runID, source: evt.Source}
	stat := deltas[key]
	if stat == nil {
		stat = &statsDelta{}
		deltas[key] = stat
	}
	switch evt.Stage {
	case progress.StageFetchDone:
		stat.d.Pages++
		stat.d.Bytes += evt.Bytes
	case progress.StageFetchError:
		stat.d.Failures++
	case progress.StageBatchFlushed:
		stat.d.Batches++
		stat.d.Records += evt.Records
	}
	if evt.TS.After(stat.at) || stat.at.IsZero() {
		stat.at = evt.TS
	}
}

// Close implements the Sink interface; it performs no action.
func (s *StoreSink) Close(context.Context) error {
	return nil
}

type statsKey struct {
	runID  uuid.UUID
	source string
}

type statsDelta struct {
	d  store.SourceDelta
	at time.Time
}
