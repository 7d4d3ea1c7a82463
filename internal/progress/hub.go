package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: capacity for fetch and batch events (default 4096).
//   - LifecycleBuffer: capacity for run and source events (default 256).
//   - MaxBatchEvents: flush once this many events queue (default 1000).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 500ms).
//   - SinkTimeout: per-sink timeout while flushing (default 10s).
//   - BaseContext: parent context passed to sink calls (defaults to context.Background()).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize      int
	LifecycleBuffer int
	MaxBatchEvents  int
	MaxBatchWait    time.Duration
	SinkTimeout     time.Duration
	BaseContext     context.Context
	Logger          *zap.Logger
}

const (
	defaultBufferSize      = 4096
	defaultLifecycleBuffer = 256
	defaultMaxBatchEvents  = 1000
	defaultMaxBatchWait    = 500 * time.Millisecond
	defaultSinkTimeout     = 10 * time.Second
	dropLogInterval        = 5 * time.Second
)

// Hub collects the events of every engine of a run and hands them to the
// sinks in batches. Emit never blocks. Fetch traffic is batched by size and
// age; run and source lifecycle events travel on their own buffer, so a flood
// of fetches cannot crowd them out, and they flush the pending batch at once.
type Hub struct {
	cfg       Config
	sinks     []Sink
	events    chan Event
	lifecycle chan Event
	stopCh    chan struct{}
	doneCh    chan struct{}
	logger    *zap.Logger

	dropLog       rate.Sometimes
	droppedSince  atomic.Int64
	accepted      atomic.Int64
	droppedTotal  atomic.Int64
	closed        atomic.Bool
	closeOnce     sync.Once
	closeCtx      context.Context
	closeCtxGuard sync.Mutex
}

// NewHub initializes a Hub and starts its batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.LifecycleBuffer <= 0 {
		cfg.LifecycleBuffer = defaultLifecycleBuffer
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:       cfg,
		sinks:     append([]Sink(nil), sinks...),
		events:    make(chan Event, cfg.BufferSize),
		lifecycle: make(chan Event, cfg.LifecycleBuffer),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    logger,
		dropLog:   rate.Sometimes{Interval: dropLogInterval},
	}
	go h.run()
	return h
}

// IsLifecycle reports whether the stage marks a run or source transition.
func (s Stage) IsLifecycle() bool {
	switch s {
	case StageRunStart, StageRunDone, StageRunError,
		StageSourceStart, StageSourceDone, StageSourceError:
		return true
	default:
		return false
	}
}

// Emit enqueues evt. Invalid events are discarded; when the buffer is full
// the event is dropped and a rate-limited warning is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	target := h.events
	if evt.Stage.IsLifecycle() {
		target = h.lifecycle
	}
	select {
	case target <- evt:
		h.accepted.Add(1)
	default:
		h.droppedSince.Add(1)
		h.droppedTotal.Add(1)
		h.dropLog.Do(func() {
			h.logger.Warn("progress events dropped due to backpressure",
				zap.Int64("dropped", h.droppedSince.Swap(0)),
				zap.String("stage", string(evt.Stage)),
			)
		})
	}
}

// Close drains remaining events, flushes and closes the sinks, and waits for
// the batching goroutine. Later calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeCtxGuard.Lock()
		h.closeCtx = ctx
		h.closeCtxGuard.Unlock()
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

// HubStats reports how many events were accepted and dropped since start.
type HubStats struct {
	Accepted int64
	Dropped  int64
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	if h == nil {
		return HubStats{}
	}
	return HubStats{Accepted: h.accepted.Load(), Dropped: h.droppedTotal.Load()}
}

// pending is the batch under construction; timer fires MaxBatchWait after its first event.
type pending struct {
	events []Event
	timer  *time.Timer
	armed  bool
}

func (p *pending) disarm() {
	if p.armed && !p.timer.Stop() {
		select {
		case <-p.timer.C:
		default:
		}
	}
	p.armed = false
}

func (h *Hub) run() {
	defer close(h.doneCh)
	timer := time.NewTimer(h.cfg.MaxBatchWait)
	timer.Stop()
	p := &pending{events: make([]Event, 0, h.cfg.MaxBatchEvents), timer: timer}

	for {
		select {
		case evt := <-h.lifecycle:
			h.drainEvents(p)
			p.events = append(p.events, evt)
			h.flushPending(p)
		case evt := <-h.events:
			p.events = append(p.events, evt)
			switch {
			case len(p.events) >= h.cfg.MaxBatchEvents:
				h.flushPending(p)
			case !p.armed:
				p.timer.Reset(h.cfg.MaxBatchWait)
				p.armed = true
			}
		case <-p.timer.C:
			p.armed = false
			h.flushPending(p)
		case <-h.stopCh:
			h.drainEvents(p)
			h.drainLifecycle(p)
			h.flushPending(p)
			h.closeSinks()
			return
		}
	}
}

// drainEvents moves every buffered fetch event into the pending batch so a
// following lifecycle event is delivered after them.
func (h *Hub) drainEvents(p *pending) {
	for {
		select {
		case evt := <-h.events:
			p.events = append(p.events, evt)
			if len(p.events) >= h.cfg.MaxBatchEvents {
				h.flushPending(p)
			}
		default:
			return
		}
	}
}

func (h *Hub) drainLifecycle(p *pending) {
	for {
		select {
		case evt := <-h.lifecycle:
			p.events = append(p.events, evt)
		default:
			return
		}
	}
}

func (h *Hub) flushPending(p *pending) {
	p.disarm()
	if len(p.events) == 0 {
		return
	}
	h.flush(append([]Event(nil), p.events...))
	p.events = p.events[:0]
}

func (h *Hub) flush(batch []Event) {
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(h.cfg.BaseContext, h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, batch); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Int("events", len(batch)), zap.Error(err))
		}
		cancel()
	}
}

func (h *Hub) closeSinks() {
	h.closeCtxGuard.Lock()
	ctx := h.closeCtx
	h.closeCtxGuard.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
