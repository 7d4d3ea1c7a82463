// Package orchestrator runs one crawl: an engine per configured source, the
// dispatch channel between them and the single batch writer, and the final
// per-source summary.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/pcspec-crawler/internal/config"
	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
	"github.com/JakeFAU/pcspec-crawler/internal/dispatcher"
	"github.com/JakeFAU/pcspec-crawler/internal/logging"
	"github.com/JakeFAU/pcspec-crawler/internal/progress"
	"github.com/JakeFAU/pcspec-crawler/internal/sites"
	"github.com/JakeFAU/pcspec-crawler/internal/writer"
)

var (
	// ErrConstruction marks sources whose engine could not be built.
	ErrConstruction = errors.New("engine construction failed")
	// ErrAlreadyRan is returned when Run is called twice.
	ErrAlreadyRan = errors.New("orchestrator already ran")
)

// Source states reported besides the engine states.
const (
	StatePending = "pending"
	StateFailed  = "failed"
)

// Config holds the run-wide settings.
type Config struct {
	RunID          uuid.UUID
	Sources        []config.Source
	QueueDepth     int
	FetchTimeout   time.Duration
	MaxActionSteps int
	// Topic receives a snapshot notice per persisted batch; empty disables them.
	Topic string
}

// Deps are the collaborators shared by every engine.
type Deps struct {
	Store     crawler.SnapshotStore
	Loaders   LoaderFactory
	Publisher writer.Publisher
	Emitter   progress.Emitter
	// NewStrategy defaults to sites.New.
	NewStrategy func(name string, deps sites.Deps) (crawler.Strategy, error)
}

// SourceStatus is the live view of one source.
type SourceStatus struct {
	Source    string `json:"source"`
	Strategy  string `json:"strategy"`
	Loader    string `json:"loader"`
	State     string `json:"state"`
	Persisted int    `json:"persisted"`
	Location  string `json:"location,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status is the live view of the run.
type Status struct {
	RunID     uuid.UUID      `json:"run_id"`
	StartedAt time.Time      `json:"started_at,omitempty"`
	Running   bool           `json:"running"`
	Sources   []SourceStatus `json:"sources"`
}

// SourceSummary is the end-of-run result of one source.
type SourceSummary struct {
	Source   string
	Records  int
	Location string
	Stats    crawler.Stats
	Err      error
}

// Summary is the end-of-run result.
type Summary struct {
	RunID    uuid.UUID
	Sources  []SourceSummary
	Duration time.Duration
}

// Failed reports whether any source failed.
func (s Summary) Failed() bool {
	for _, src := range s.Sources {
		if src.Err != nil {
			return true
		}
	}
	return false
}

type sourceRun struct {
	src    config.Source
	engine *crawler.Engine
	stats  crawler.Stats
	err    error
}

// Orchestrator owns one crawl run.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu      sync.RWMutex
	started time.Time
	running bool
	ran     bool
	runs    []*sourceRun
	writer  *writer.Writer
}

// New validates cfg and deps.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	if deps.Store == nil {
		return nil, errors.New("orchestrator requires a snapshot store")
	}
	if deps.Loaders == nil {
		return nil, errors.New("orchestrator requires a loader factory")
	}
	if cfg.RunID == uuid.Nil {
		return nil, errors.New("orchestrator requires a run id")
	}
	if deps.NewStrategy == nil {
		deps.NewStrategy = sites.New
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Nop{}
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = len(cfg.Sources)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{cfg: cfg, deps: deps, logger: logger}
	for _, src := range cfg.Sources {
		o.runs = append(o.runs, &sourceRun{src: src})
	}
	return o, nil
}

// Run crawls every source to completion. Engines that cannot be built are
// reported and skipped; the others still run. The returned error joins the
// construction failures and any persistence failure.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return Summary{}, ErrAlreadyRan
	}
	o.ran = true
	o.running = true
	o.started = time.Now()
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	ctx, span := otel.Tracer("pcspec-crawler/orchestrator").Start(ctx, "crawl.run")
	span.SetAttributes(
		attribute.String("run_id", o.cfg.RunID.String()),
		attribute.Int("sources", len(o.runs)),
	)
	defer span.End()

	runID := progress.UUIDToBytes(o.cfg.RunID)
	o.emit(progress.Event{Stage: progress.StageRunStart})
	o.logger.Info("run started", zap.String("run_id", o.cfg.RunID.String()), zap.Int("sources", len(o.runs)))

	names := make([]string, 0, len(o.runs))
	for _, r := range o.runs {
		names = append(names, r.src.Name)
	}
	d := dispatcher.New(o.cfg.QueueDepth, names...)
	w := writer.New(
		writer.Config{RunID: runID, Topic: o.cfg.Topic},
		d, o.deps.Store, o.deps.Publisher, o.deps.Emitter, o.logger.Named("writer"),
	)
	o.mu.Lock()
	o.writer = w
	o.mu.Unlock()

	// A persistence failure ends the run: engines still crawling are
	// cancelled and drain against the failed dispatcher.
	engineCtx, cancelEngines := context.WithCancel(ctx)
	defer cancelEngines()

	writerCtx := context.WithoutCancel(ctx)
	writerDone := make(chan error, 1)
	go func() {
		err := w.Run(writerCtx)
		if err != nil {
			o.logger.Error("snapshot persistence failed, stopping all sources", zap.Error(err))
			cancelEngines()
		}
		writerDone <- err
	}()

	for _, r := range o.runs {
		o.build(engineCtx, r, d, runID)
	}

	var wg sync.WaitGroup
	for _, r := range o.runs {
		if r.engine == nil {
			continue
		}
		wg.Add(1)
		go func(r *sourceRun) {
			defer wg.Done()
			stats, err := r.engine.Run(engineCtx)
			o.mu.Lock()
			r.stats, r.err = stats, err
			o.mu.Unlock()
		}(r)
	}
	wg.Wait()

	if err := d.Stop(writerCtx); err != nil && !errors.Is(err, dispatcher.ErrWriterFailed) {
		o.logger.Warn("dispatcher stop failed", zap.Error(err))
	}
	writerErr := <-writerDone

	summary := o.summarize(w, writerErr)
	err := o.result(summary, writerErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.emit(progress.Event{Stage: progress.StageRunError, Dur: summary.Duration, Note: err.Error()})
	} else {
		o.emit(progress.Event{Stage: progress.StageRunDone, Dur: summary.Duration})
	}
	o.logSummary(summary)
	return summary, err
}

// build constructs the engine of one source, recording any failure on r.
func (o *Orchestrator) build(ctx context.Context, r *sourceRun, d *dispatcher.Dispatcher, runID [16]byte) {
	src := r.src
	logger := logging.ForSource(o.logger, src.Name)

	strategy, err := o.deps.NewStrategy(src.Strategy, sites.Deps{
		Probe:  o.deps.Loaders.Probe(src),
		Logger: logger.Named("strategy"),
	})
	if err != nil {
		o.constructionFailed(r, fmt.Errorf("strategy: %w", err))
		return
	}
	loader, err := o.deps.Loaders.Loader(ctx, src, strategy)
	if err != nil {
		o.constructionFailed(r, err)
		return
	}
	engine, err := crawler.NewEngine(crawler.EngineConfig{
		Source:         src.Name,
		RunID:          runID,
		SeedURLs:       src.SeedURLs,
		BatchSize:      src.BatchSize,
		SettleDelay:    src.SettleDelay,
		FetchTimeout:   o.cfg.FetchTimeout,
		Workers:        src.Workers,
		MaxActionSteps: o.cfg.MaxActionSteps,
	}, crawler.EngineDeps{
		Strategy: strategy,
		Loader:   loader,
		Flusher:  d,
		Throttle: newThrottle(src),
		Emitter:  o.deps.Emitter,
	}, logger.Named("engine"))
	if err != nil {
		if c, ok := loader.(crawler.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				logger.Warn("loader close failed", zap.Error(cerr))
			}
		}
		o.constructionFailed(r, err)
		return
	}
	o.mu.Lock()
	r.engine = engine
	o.mu.Unlock()
}

func (o *Orchestrator) constructionFailed(r *sourceRun, err error) {
	err = fmt.Errorf("%w: %s: %w", ErrConstruction, r.src.Name, err)
	o.mu.Lock()
	r.err = err
	o.mu.Unlock()
	o.emit(progress.Event{Stage: progress.StageSourceError, Source: r.src.Name, Note: err.Error()})
	o.logger.Error("engine construction failed", zap.String("source", r.src.Name), zap.Error(err))
}

func (o *Orchestrator) summarize(w *writer.Writer, writerErr error) Summary {
	totals := w.Totals()
	summary := Summary{RunID: o.cfg.RunID, Duration: time.Since(o.started)}
	for _, r := range o.runs {
		s := SourceSummary{
			Source:   r.src.Name,
			Records:  totals[r.src.Name],
			Location: w.Location(r.src.Name),
			Stats:    r.stats,
			Err:      r.err,
		}
		if s.Err == nil && writerErr != nil && r.engine != nil {
			s.Err = writerErr
		}
		summary.Sources = append(summary.Sources, s)
	}
	return summary
}

func (o *Orchestrator) result(summary Summary, writerErr error) error {
	var errs []error
	for _, s := range summary.Sources {
		if errors.Is(s.Err, ErrConstruction) {
			errs = append(errs, s.Err)
		}
	}
	if writerErr != nil {
		errs = append(errs, fmt.Errorf("persist snapshots: %w", writerErr))
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) logSummary(summary Summary) {
	for _, s := range summary.Sources {
		fields := []zap.Field{
			zap.String("source", s.Source),
			zap.Int("records", s.Records),
			zap.Int("listing_pages", s.Stats.ListingPages),
			zap.Int("detail_urls", s.Stats.DetailURLs),
			zap.Int("detail_failures", s.Stats.DetailFailures),
		}
		if s.Location != "" {
			fields = append(fields, zap.String("location", s.Location))
		}
		if s.Err != nil {
			o.logger.Error("source summary", append(fields, zap.Error(s.Err))...)
			continue
		}
		o.logger.Info("source summary", fields...)
	}
	o.logger.Info("run finished",
		zap.String("run_id", summary.RunID.String()),
		zap.Duration("duration", summary.Duration),
		zap.Bool("failed", summary.Failed()),
	)
}

// Status reports the live state of every source.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := Status{
		RunID:     o.cfg.RunID,
		StartedAt: o.started,
		Running:   o.running,
		Sources:   make([]SourceStatus, 0, len(o.runs)),
	}
	var totals map[string]int
	if o.writer != nil {
		totals = o.writer.Totals()
	}
	for _, r := range o.runs {
		s := SourceStatus{
			Source:   r.src.Name,
			Strategy: r.src.Strategy,
			Loader:   r.src.Loader,
			State:    StatePending,
		}
		switch {
		case r.err != nil && r.engine == nil:
			s.State = StateFailed
		case r.engine != nil:
			s.State = r.engine.State().String()
		}
		if r.err != nil {
			s.Error = r.err.Error()
		}
		if o.writer != nil {
			s.Persisted = totals[r.src.Name]
			s.Location = o.writer.Location(r.src.Name)
		}
		st.Sources = append(st.Sources, s)
	}
	return st
}

func (o *Orchestrator) emit(evt progress.Event) {
	evt.RunID = progress.UUIDToBytes(o.cfg.RunID)
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	o.deps.Emitter.Emit(evt)
}
