// Package ratelimit paces the fetches of one source with a token bucket.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Delay enforces a minimum gap between consecutive fetches. It is shared by
// every worker of one source, so the gap holds across the whole source.
type Delay struct {
	limiter *rate.Limiter
	gap     time.Duration
}

// NewDelay returns a Delay allowing one fetch per gap. A non-positive gap
// disables pacing.
func NewDelay(gap time.Duration) *Delay {
	limit := rate.Inf
	if gap > 0 {
		limit = rate.Every(gap)
	}
	return &Delay{limiter: rate.NewLimiter(limit, 1), gap: gap}
}

// Wait blocks until the next fetch may start.
func (d *Delay) Wait(ctx context.Context) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Gap returns the configured interval.
func (d *Delay) Gap() time.Duration {
	return d.gap
}
