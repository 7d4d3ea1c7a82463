package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pcspec-crawler/internal/progress"
)

// State is the engine lifecycle position.
type State int32

// Engine states, in the order a run moves through them.
const (
	StateIdle State = iota
	StateListing
	StateDetail
	StateDraining
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListing:
		return "listing"
	case StateDetail:
		return "detail"
	case StateDraining:
		return "draining"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// ErrEngineRunning is returned when Run is called on an engine that has not finished.
var ErrEngineRunning = errors.New("engine is already running")

// ErrLoaderClosed is returned when Run is called again after the engine has
// closed a loader that implements Closer.
var ErrLoaderClosed = errors.New("engine loader already closed")

const (
	defaultFetchTimeout   = 30 * time.Second
	defaultMaxActionSteps = 500
)

// Throttle delays requests; Wait blocks until the next request may start.
type Throttle interface {
	Wait(ctx context.Context) error
}

// EngineConfig holds the immutable settings of one source's engine.
type EngineConfig struct {
	Source         string
	RunID          [16]byte
	SeedURLs       []string
	BatchSize      int
	SettleDelay    time.Duration
	FetchTimeout   time.Duration
	Workers        int
	MaxActionSteps int
}

// EngineDeps are the collaborators an engine drives.
type EngineDeps struct {
	Strategy Strategy
	Loader   Fetcher
	Flusher  Flusher
	Throttle Throttle
	Emitter  progress.Emitter
}

// Stats summarizes one run.
type Stats struct {
	Source          string
	ListingPages    int
	ListingFailures int
	DetailURLs      int
	DetailFetched   int
	DetailFailures  int
	EmptyPages      int
	Records         int
	Batches         int
	Stopped         bool
	Duration        time.Duration
}

// Engine crawls one source: listing pages first, then every discovered
// detail page, handing records to the Flusher in batches.
type Engine struct {
	cfg          EngineConfig
	strategy     Strategy
	loader       Fetcher
	flusher      Flusher
	throttle     Throttle
	emitter      progress.Emitter
	logger       *zap.Logger
	listOpts     NormalizeOptions
	detailOpts   NormalizeOptions
	linkSelector string

	state    atomic.Int32
	stopping atomic.Bool
	released atomic.Bool

	// visitedDetail survives across runs of the same engine.
	mu            sync.Mutex
	visitedDetail map[string]struct{}
}

// NewEngine validates cfg and deps and returns an idle engine.
func NewEngine(cfg EngineConfig, deps EngineDeps, logger *zap.Logger) (*Engine, error) {
	if cfg.Source == "" {
		return nil, errors.New("engine source is required")
	}
	if deps.Strategy == nil || deps.Loader == nil || deps.Flusher == nil {
		return nil, errors.New("engine requires strategy, loader and flusher")
	}
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be > 0, got %d", cfg.BatchSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.MaxActionSteps <= 0 {
		cfg.MaxActionSteps = defaultMaxActionSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		cfg:           cfg,
		strategy:      deps.Strategy,
		loader:        deps.Loader,
		flusher:       deps.Flusher,
		throttle:      deps.Throttle,
		emitter:       deps.Emitter,
		logger:        logger.With(zap.String("source", cfg.Source)),
		visitedDetail: make(map[string]struct{}),
	}
	if p, ok := deps.Strategy.(NormalizationPolicy); ok {
		e.listOpts = p.ListingNormalizeOptions()
		e.detailOpts = p.DetailNormalizeOptions()
	}
	if scope, ok := deps.Strategy.(ListingLinkScope); ok {
		e.linkSelector = scope.ListingLinkSelector()
	}
	return e, nil
}

// Source returns the source identifier.
func (e *Engine) Source() string { return e.cfg.Source }

// State returns the current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Stop asks a running crawl to finish the current URL and drain.
func (e *Engine) Stop() { e.stopping.Store(true) }

// Run executes one crawl. An engine whose loader is not a Closer may run
// again after Done and skips the details it already visited. Per-URL failures are logged and skipped; the
// returned error is non-nil only when a batch could not be persisted.
// Cancelling ctx behaves like Stop.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	if e.released.Load() {
		return Stats{}, ErrLoaderClosed
	}
	if !e.state.CompareAndSwap(int32(StateIdle), int32(StateListing)) &&
		!e.state.CompareAndSwap(int32(StateDone), int32(StateListing)) {
		return Stats{}, ErrEngineRunning
	}
	e.stopping.Store(false)
	start := time.Now()
	stats := Stats{Source: e.cfg.Source}
	e.emit(progress.Event{Stage: progress.StageSourceStart})
	e.logger.Info("crawl started", zap.Int("seeds", len(e.cfg.SeedURLs)))

	details := e.runListing(ctx, &stats)

	var err error
	if !stats.Stopped {
		e.setState(StateDetail)
		e.logger.Info("listing phase finished",
			zap.Int("listing_pages", stats.ListingPages),
			zap.Int("detail_urls", details.Len()),
		)
		err = e.runDetail(ctx, details, &stats)
	}
	if e.State() != StateDraining {
		e.setState(StateDraining)
	}

	e.release()
	stats.Duration = time.Since(start)
	e.setState(StateDone)

	if err != nil {
		e.emit(progress.Event{Stage: progress.StageSourceError, Records: int64(stats.Records), Dur: stats.Duration, Note: err.Error()})
		e.logger.Error("crawl aborted", zap.Error(err), zap.Int("records", stats.Records))
		return stats, err
	}
	e.emit(progress.Event{Stage: progress.StageSourceDone, Records: int64(stats.Records), Dur: stats.Duration})
	e.logger.Info("crawl finished",
		zap.Int("records", stats.Records),
		zap.Int("batches", stats.Batches),
		zap.Int("detail_failures", stats.DetailFailures),
		zap.Bool("stopped", stats.Stopped),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
	e.logger.Debug("engine state", zap.Stringer("state", s))
}

func (e *Engine) shouldStop(ctx context.Context) bool {
	return e.stopping.Load() || ctx.Err() != nil
}

func (e *Engine) normalize(u string) string {
	return Normalize(u, e.listOpts)
}

func (e *Engine) normalizeDetail(u string) string {
	return Normalize(u, e.detailOpts)
}

func (e *Engine) runListing(ctx context.Context, stats *Stats) *URLSet {
	seeds := make([]string, 0, len(e.cfg.SeedURLs))
	for _, s := range e.cfg.SeedURLs {
		seeds = append(seeds, e.normalize(s))
	}
	frontier := NewListingFrontier(seeds...)
	details := NewURLSet()

	for {
		if e.shouldStop(ctx) {
			stats.Stopped = true
			e.setState(StateDraining)
			return details
		}
		u, ok := frontier.Pop()
		if !ok {
			return details
		}
		if !frontier.MarkVisited(u) {
			continue
		}
		e.crawlListing(ctx, frontier, details, u, stats)
	}
}

// crawlListing processes one listing URL. Pagination actions are executed in
// place and every page they land on is processed in the same call.
func (e *Engine) crawlListing(ctx context.Context, frontier *ListingFrontier, details *URLSet, u string, stats *Stats) {
	resp, err := e.fetch(ctx, FetchRequest{URL: u, SettleDelay: e.cfg.SettleDelay})
	if err != nil {
		stats.ListingFailures++
		e.logger.Warn("listing fetch failed", zap.String("url", u), zap.Error(err))
		return
	}
	current := u
	for step := 0; ; step++ {
		stats.ListingPages++
		if landed := e.normalize(resp.URL); landed != "" {
			frontier.MarkVisited(landed)
		}
		doc, err := ParseDocument(current, resp.Body)
		if err != nil {
			e.logger.Warn("listing parse failed", zap.String("url", current), zap.Error(err))
			return
		}
		added := e.collectDetails(doc, details)
		e.logger.Debug("listing page processed",
			zap.String("url", current),
			zap.Int("new_detail_urls", added),
		)

		next, ok, err := e.strategy.NextListingURL(ctx, current, doc)
		if err != nil {
			e.logger.Warn("next listing lookup failed", zap.String("url", current), zap.Error(err))
			return
		}
		if !ok {
			return
		}
		if next.Action == nil {
			if n := e.normalize(next.URL); frontier.Push(n) {
				e.logger.Debug("listing page queued", zap.String("url", n))
			}
			return
		}
		if step+1 >= e.cfg.MaxActionSteps {
			e.logger.Warn("pagination action limit reached", zap.String("url", current), zap.Int("steps", step+1))
			return
		}
		if e.shouldStop(ctx) {
			return
		}
		resp, err = e.fetch(ctx, FetchRequest{URL: current, SettleDelay: e.cfg.SettleDelay, Action: next.Action})
		if err != nil {
			stats.ListingFailures++
			e.logger.Warn("pagination action failed", zap.String("url", current), zap.Error(err))
			return
		}
		landed := e.normalize(resp.URL)
		if landed == "" || !frontier.MarkVisited(landed) {
			e.logger.Debug("pagination action reached a visited page", zap.String("url", landed))
			return
		}
		current = landed
	}
}

func (e *Engine) collectDetails(doc *Document, details *URLSet) int {
	links := doc.Links
	if e.linkSelector != "" {
		links = func() []string { return doc.LinksMatching(e.linkSelector) }
	}
	added := 0
	for _, link := range links() {
		n := e.normalizeDetail(link)
		if !e.strategy.RecognizesDetailURL(n) {
			continue
		}
		if details.Add(n) {
			added++
		}
	}
	return added
}

type detailResult struct {
	url    string
	record Record
	failed bool
}

func (e *Engine) runDetail(ctx context.Context, details *URLSet, stats *Stats) error {
	stats.DetailURLs = details.Len()
	flushCtx := context.WithoutCancel(ctx)
	results := make(chan detailResult)
	abort := make(chan struct{})
	var abortOnce sync.Once

	go func() {
		defer close(results)
		var g errgroup.Group
		g.SetLimit(e.cfg.Workers)
	dispatch:
		for _, u := range details.Items() {
			select {
			case <-abort:
				break dispatch
			default:
			}
			if e.shouldStop(ctx) {
				break
			}
			if !e.markDetail(u) {
				continue
			}
			g.Go(func() error {
				res := e.crawlDetail(ctx, u)
				select {
				case results <- res:
				case <-abort:
				}
				return nil
			})
		}
		_ = g.Wait()
	}()

	batch := make([]Record, 0, e.cfg.BatchSize)
	var flushErr error
	for res := range results {
		if flushErr != nil {
			continue
		}
		switch {
		case res.failed:
			stats.DetailFailures++
			continue
		case res.record == nil:
			stats.DetailFetched++
			stats.EmptyPages++
			continue
		}
		stats.DetailFetched++
		batch = append(batch, res.record)
		if len(batch) < e.cfg.BatchSize {
			continue
		}
		if err := e.flush(flushCtx, batch, stats); err != nil {
			flushErr = err
			abortOnce.Do(func() { close(abort) })
			continue
		}
		batch = make([]Record, 0, e.cfg.BatchSize)
	}
	if flushErr != nil {
		return flushErr
	}
	if e.shouldStop(ctx) {
		stats.Stopped = true
	}

	e.setState(StateDraining)
	if len(batch) > 0 {
		return e.flush(flushCtx, batch, stats)
	}
	return nil
}

// markDetail records u in the engine-wide visited set and reports whether it was new.
func (e *Engine) markDetail(u string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.visitedDetail[u]; ok {
		return false
	}
	e.visitedDetail[u] = struct{}{}
	return true
}

func (e *Engine) crawlDetail(ctx context.Context, u string) detailResult {
	resp, err := e.fetch(ctx, FetchRequest{URL: u, SettleDelay: e.cfg.SettleDelay})
	if err != nil {
		e.logger.Warn("detail fetch failed", zap.String("url", u), zap.Error(err))
		return detailResult{url: u, failed: true}
	}
	doc, err := ParseDocument(u, resp.Body)
	if err != nil {
		e.logger.Warn("detail parse failed", zap.String("url", u), zap.Error(err))
		return detailResult{url: u, failed: true}
	}
	rec, err := e.strategy.ExtractDetailFields(doc)
	if err != nil {
		e.logger.Warn("detail extraction failed", zap.String("url", u), zap.Error(err))
		return detailResult{url: u, failed: true}
	}
	if rec == nil || rec.IsEmpty() {
		e.logger.Debug("detail page has no recognizable fields", zap.String("url", u))
		return detailResult{url: u}
	}
	rec = rec.Clone()
	rec[FieldURL] = u
	return detailResult{url: u, record: rec}
}

func (e *Engine) flush(ctx context.Context, batch []Record, stats *Stats) error {
	if err := e.flusher.Flush(ctx, e.cfg.Source, batch); err != nil {
		return fmt.Errorf("flush %d records: %w", len(batch), err)
	}
	stats.Batches++
	stats.Records += len(batch)
	e.logger.Debug("batch persisted", zap.Int("batch", len(batch)), zap.Int("records", stats.Records))
	return nil
}

func (e *Engine) fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	if e.throttle != nil {
		if err := e.throttle.Wait(ctx); err != nil {
			return FetchResponse{}, fmt.Errorf("throttle: %w", err)
		}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.loader.Fetch(fetchCtx, req)
	if err == nil && resp.StatusCode >= 400 {
		err = fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err != nil {
		e.emit(progress.Event{Stage: progress.StageFetchError, URL: req.URL, Dur: time.Since(start), Note: err.Error()})
		return FetchResponse{}, err
	}
	if resp.URL == "" {
		resp.URL = req.URL
	}
	e.emit(progress.Event{
		Stage:       progress.StageFetchDone,
		URL:         resp.URL,
		Bytes:       int64(len(resp.Body)),
		StatusClass: progress.ClassifyStatus(resp.StatusCode),
		Dur:         time.Since(start),
	})
	return resp, nil
}

// release closes the loader when it holds external resources.
func (e *Engine) release() {
	c, ok := e.loader.(Closer)
	if !ok {
		return
	}
	e.released.Store(true)
	if err := c.Close(); err != nil {
		e.logger.Warn("loader close failed", zap.Error(err))
	}
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	evt.RunID = e.cfg.RunID
	evt.Source = e.cfg.Source
	if evt.TS.IsZero() {
		evt.TS = time.Now().UTC()
	}
	e.emitter.Emit(evt)
}
