package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelaySpacesCalls(t *testing.T) {
	d := NewDelay(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, d.Wait(ctx))
	assert.Less(t, time.Since(start), 20*time.Millisecond, "first call uses the initial token")

	require.NoError(t, d.Wait(ctx))
	require.NoError(t, d.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, d.Gap())
}

func TestZeroDelayNeverBlocks(t *testing.T) {
	d := NewDelay(0)
	start := time.Now()
	for i := 0; i < 100; i++ {
		require.NoError(t, d.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestDelayHonorsContext(t *testing.T) {
	d := NewDelay(time.Hour)
	require.NoError(t, d.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, d.Wait(ctx))
}
