// Package dispatcher implements the bounded handoff between crawl engines and
// the single batch writer, with a per-source completion gate that allows at
// most one unacknowledged batch per source.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/JakeFAU/pcspec-crawler/internal/crawler"
)

var (
	// ErrUnknownSource is returned for sources that were never registered.
	ErrUnknownSource = errors.New("unknown source")
	// ErrStopped is returned by Flush after Stop.
	ErrStopped = errors.New("dispatcher stopped")
	// ErrWriterFailed wraps the error passed to Fail.
	ErrWriterFailed = errors.New("writer failed")
)

// Envelope is one item on the channel: a batch for a source or the stop sentinel.
type Envelope struct {
	Source  string
	Records []crawler.Record
	stop    bool
}

// IsStop reports whether the envelope is the shutdown sentinel.
func (e Envelope) IsStop() bool { return e.stop }

// Dispatcher carries batches from engines to the writer.
type Dispatcher struct {
	ch chan Envelope

	mu    sync.RWMutex
	gates map[string]*Gate

	stopped  atomic.Bool
	failed   chan struct{}
	failOnce sync.Once
	failErr  error
}

// New returns a dispatcher whose channel buffers capacity envelopes.
func New(capacity int, sources ...string) *Dispatcher {
	if capacity < 0 {
		capacity = 0
	}
	d := &Dispatcher{
		ch:     make(chan Envelope, capacity),
		gates:  make(map[string]*Gate),
		failed: make(chan struct{}),
	}
	for _, s := range sources {
		d.Register(s)
	}
	return d
}

// Register adds a source with a set gate. Registering twice is a no-op.
func (d *Dispatcher) Register(source string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.gates[source]; !ok {
		d.gates[source] = NewGate()
	}
}

func (d *Dispatcher) gate(source string) (*Gate, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.gates[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return g, nil
}

// Flush clears the source's gate, hands the batch to the writer and blocks
// until the writer acknowledges it or the dispatcher fails. ctx bounds the
// hand-off only: once the batch is on the channel the writer owns it, so
// Flush reports its real outcome rather than the caller's cancellation.
// The caller must not reuse records.
func (d *Dispatcher) Flush(ctx context.Context, source string, records []crawler.Record) error {
	if d.stopped.Load() {
		return ErrStopped
	}
	if err := d.Err(); err != nil {
		return err
	}
	g, err := d.gate(source)
	if err != nil {
		return err
	}
	acked, err := g.Clear()
	if err != nil {
		return fmt.Errorf("flush %s: %w", source, err)
	}

	select {
	case d.ch <- Envelope{Source: source, Records: records}:
	case <-ctx.Done():
		g.Set()
		return fmt.Errorf("hand off batch: %w", ctx.Err())
	case <-d.failed:
		g.Set()
		return d.Err()
	}

	select {
	case <-acked:
		return nil
	case <-d.failed:
		select {
		case <-acked:
			return nil
		default:
		}
		return d.Err()
	}
}

// Receive returns the next envelope.
func (d *Dispatcher) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-d.ch:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, fmt.Errorf("receive canceled: %w", ctx.Err())
	}
}

// Ack sets the source's gate after its batch has been persisted.
func (d *Dispatcher) Ack(source string) error {
	g, err := d.gate(source)
	if err != nil {
		return err
	}
	g.Set()
	return nil
}

// Fail records a fatal writer error and releases every blocked Flush with it.
func (d *Dispatcher) Fail(err error) {
	if err == nil {
		return
	}
	d.failOnce.Do(func() {
		d.failErr = fmt.Errorf("%w: %w", ErrWriterFailed, err)
		close(d.failed)
	})
}

// Err returns the failure recorded by Fail, if any.
func (d *Dispatcher) Err() error {
	select {
	case <-d.failed:
		return d.failErr
	default:
		return nil
	}
}

// Stop sends the shutdown sentinel. Call it once every engine has finished.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}
	select {
	case d.ch <- Envelope{stop: true}:
		return nil
	case <-d.failed:
		return d.Err()
	case <-ctx.Done():
		return fmt.Errorf("send stop: %w", ctx.Err())
	}
}

// Pending reports whether source has an unacknowledged batch.
func (d *Dispatcher) Pending(source string) bool {
	g, err := d.gate(source)
	if err != nil {
		return false
	}
	return !g.IsSet()
}
