// Package writer implements the single batch writer that owns every source's
// persisted result set.
package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	"github.com/JakeFAU/pcspec-crawler/internal/dispatcher"
	"github.com/JakeFAU/pcspec-crawler/internal/progress"
)

// Receiver is the writer's side of the dispatch channel.
type Receiver interface {
	Receive(ctx context.Context) (dispatcher.Envelope, error)
	Ack(source string) error
	Fail(err error)
}

// Publisher pushes snapshot notices to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Notice announces that a source snapshot was rewritten.
type Notice struct {
	RunID   string    `json:"run_id"`
	Source  string    `json:"source"`
	URI     string    `json:"uri"`
	Batch   int       `json:"batch"`
	Total   int       `json:"total"`
	Written time.Time `json:"written_at"`
}

// Config holds writer settings.
type Config struct {
	RunID [16]byte
	// Topic receives a Notice per persisted batch; empty disables notices.
	Topic string
}

// Writer drains the dispatch channel, appends each batch to its source's
// result set, rewrites the source snapshot, and only then acknowledges.
type Writer struct {
	cfg       Config
	rx        Receiver
	store     crawler.SnapshotStore
	publisher Publisher
	emitter   progress.Emitter
	logger    *zap.Logger

	mu      sync.RWMutex
	results map[string][]crawler.Record
	uris    map[string]string
}

// New constructs a Writer. publisher and emitter may be nil.
func New(cfg Config, rx Receiver, store crawler.SnapshotStore, publisher Publisher, emitter progress.Emitter, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if emitter == nil {
		emitter = progress.Nop{}
	}
	return &Writer{
		cfg:       cfg,
		rx:        rx,
		store:     store,
		publisher: publisher,
		emitter:   emitter,
		logger:    logger,
		results:   make(map[string][]crawler.Record),
		uris:      make(map[string]string),
	}
}

// Run processes envelopes until the stop sentinel arrives, returning nil. A
// persistence failure marks the receiver failed and is returned; the caller
// must treat it as fatal.
func (w *Writer) Run(ctx context.Context) error {
	w.logger.Info("writer started")
	for {
		env, err := w.rx.Receive(ctx)
		if err != nil {
			return fmt.Errorf("writer receive: %w", err)
		}
		if env.IsStop() {
			w.logger.Info("writer stopped", zap.Int("sources", len(w.Totals())))
			return nil
		}
		if err := w.persist(ctx, env); err != nil {
			w.rx.Fail(err)
			w.emitter.Emit(progress.Event{
				RunID:  w.cfg.RunID,
				TS:     time.Now().UTC(),
				Stage:  progress.StageSourceError,
				Source: env.Source,
				Note:   err.Error(),
			})
			w.logger.Error("snapshot persist failed", zap.String("source", env.Source), zap.Error(err))
			return err
		}
		if err := w.rx.Ack(env.Source); err != nil {
			w.rx.Fail(err)
			return fmt.Errorf("ack %s: %w", env.Source, err)
		}
	}
}

func (w *Writer) persist(ctx context.Context, env dispatcher.Envelope) error {
	if env.Source == "" {
		return errors.New("envelope without source")
	}
	start := time.Now()

	w.mu.RLock()
	prev := w.results[env.Source]
	w.mu.RUnlock()
	next := make([]crawler.Record, 0, len(prev)+len(env.Records))
	next = append(next, prev...)
	next = append(next, env.Records...)

	uri, err := w.store.Save(ctx, env.Source, next)
	if err != nil {
		return fmt.Errorf("persist %s: %w", env.Source, err)
	}

	w.mu.Lock()
	w.results[env.Source] = next
	w.uris[env.Source] = uri
	w.mu.Unlock()

	dur := time.Since(start)
	w.emitter.Emit(progress.Event{
		RunID:   w.cfg.RunID,
		TS:      time.Now().UTC(),
		Stage:   progress.StageBatchFlushed,
		Source:  env.Source,
		Records: int64(len(env.Records)),
		Dur:     dur,
		Note:    uri,
	})
	w.logger.Info("snapshot written",
		zap.String("source", env.Source),
		zap.Int("batch", len(env.Records)),
		zap.Int("total", len(next)),
		zap.String("uri", uri),
		zap.Duration("dur", dur),
	)
	w.notify(ctx, env.Source, uri, len(env.Records), len(next))
	return nil
}

// notify publishes a snapshot notice. Failures are logged, never fatal.
func (w *Writer) notify(ctx context.Context, source, uri string, batch, total int) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	notice := Notice{
		RunID:   uuid.UUID(w.cfg.RunID).String(),
		Source:  source,
		URI:     uri,
		Batch:   batch,
		Total:   total,
		Written: time.Now().UTC(),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, notice); err != nil {
		w.logger.Warn("snapshot notice publish failed", zap.String("source", source), zap.Error(err))
	}
}

// Totals returns the number of persisted records per source.
func (w *Writer) Totals() map[string]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]int, len(w.results))
	for src, recs := range w.results {
		out[src] = len(recs)
	}
	return out
}

// Location returns the last snapshot URI written for source.
func (w *Writer) Location(source string) string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.uris[source]
}
