package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListingFrontierFIFOAndDedup(t *testing.T) {
	t.Parallel()

	f := NewListingFrontier("https://a/1", "https://a/2", "https://a/1", "")
	require.Equal(t, 2, f.Len())

	u, ok := f.Pop()
	require.True(t, ok)
	assert.Equal(t, "https://a/1", u)
	assert.True(t, f.MarkVisited(u))
	assert.False(t, f.MarkVisited(u))

	assert.False(t, f.Push("https://a/1"), "visited URL must not be queued again")
	assert.False(t, f.Push("https://a/2"), "queued URL must not be queued twice")
	assert.True(t, f.Push("https://a/3"))

	u, _ = f.Pop()
	assert.Equal(t, "https://a/2", u)
	u, _ = f.Pop()
	assert.Equal(t, "https://a/3", u)
	_, ok = f.Pop()
	assert.False(t, ok)
	assert.Equal(t, 1, f.VisitedCount())
	assert.True(t, f.Visited("https://a/1"))
}

func TestURLSetKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := NewURLSet()
	assert.True(t, s.Add("b"))
	assert.True(t, s.Add("a"))
	assert.False(t, s.Add("b"))
	assert.Equal(t, []string{"b", "a"}, s.Items())
	assert.True(t, s.Contains("a"))
	assert.Equal(t, 2, s.Len())
}
