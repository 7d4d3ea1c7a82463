package dispatcher

import (
	"errors"
	"sync"
)

// ErrBatchInFlight is returned when a source flushes while its previous batch
// has not been acknowledged.
var ErrBatchInFlight = errors.New("previous batch not yet acknowledged")

// Gate is the per-source completion signal. It starts set; Clear arms it for
// one batch and Set releases the waiter once the batch is persisted.
type Gate struct {
	mu   sync.Mutex
	done chan struct{}
}

// NewGate returns a set gate.
func NewGate() *Gate {
	done := make(chan struct{})
	close(done)
	return &Gate{done: done}
}

// Clear arms the gate and returns the channel that closes on Set. It fails
// with ErrBatchInFlight when the gate is already clear.
func (g *Gate) Clear() (<-chan struct{}, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.done:
	default:
		return nil, ErrBatchInFlight
	}
	g.done = make(chan struct{})
	return g.done, nil
}

// Set releases the gate. Setting a set gate is a no-op.
func (g *Gate) Set() {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.done:
	default:
		close(g.done)
	}
}

// IsSet reports whether no batch is outstanding.
func (g *Gate) IsSet() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	select {
	case <-g.done:
		return true
	default:
		return false
	}
}
