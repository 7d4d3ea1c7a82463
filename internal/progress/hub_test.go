package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"go.uber.org/zap"
)

func TestHubBatchBySize(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 2,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	evt := sampleEvent(StageFetchDone)
	hub.Emit(evt)
	hub.Emit(evt)
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1 && len(sink.Batches()[0]) == 2
	}, time.Second, 10*time.Millisecond)
	require.Equal(t, int64(2), hub.Stats().Accepted)
}

func TestHubLifecycleFlushesPendingFetches(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     8,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageFetchDone))
	hub.Emit(sampleEvent(StageFetchDone))
	hub.Emit(sampleEvent(StageSourceDone))

	var got [][]Event
	require.Eventually(t, func() bool {
		got = sink.Batches()
		n := 0
		for _, b := range got {
			n += len(b)
		}
		return n == 3
	}, time.Second, 5*time.Millisecond)
	last := got[len(got)-1]
	require.Equal(t, StageSourceDone, last[len(last)-1].Stage)
}

func TestHubLifecycleSurvivesFetchFlood(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events:    make(chan Event, 1),
		lifecycle: make(chan Event, 1),
		logger:    zap.NewNop(),
	}
	for range 5 {
		hub.Emit(sampleEvent(StageFetchDone))
	}
	hub.Emit(sampleEvent(StageSourceDone))

	require.Equal(t, HubStats{Accepted: 2, Dropped: 4}, hub.Stats())
	require.Equal(t, StageSourceDone, (<-hub.lifecycle).Stage)
}

func TestHubBatchByTimer(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 10,
		MaxBatchWait:   25 * time.Millisecond,
	}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleEvent(StageRunStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitNonBlockingWithoutConsumers(t *testing.T) {
	t.Parallel()

	hub := &Hub{
		events:    make(chan Event),
		lifecycle: make(chan Event),
		logger:    zap.NewNop(),
	}
	start := time.Now()
	hub.Emit(sampleEvent(StageRunStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.Equal(t, int64(1), hub.Stats().Dropped)
}

func TestHubDiscardsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatchEvents: 1}, sink)

	evt := sampleEvent(StageBatchFlushed)
	evt.Source = ""
	hub.Emit(evt)

	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
	require.Zero(t, hub.Stats().Accepted)
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 100,
		MaxBatchWait:   time.Minute,
	}, sink)

	hub.Emit(sampleEvent(StageFetchDone))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)

	// Emit after close is ignored.
	hub.Emit(sampleEvent(StageFetchDone))
	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleEvent(StageRunStart))
	require.NoError(t, hub.Close(context.Background()))
	require.Equal(t, HubStats{}, hub.Stats())
}

func TestEventValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, sampleEvent(StageFetchDone).Validate())
	require.NoError(t, sampleEvent(StageRunDone).Validate())

	missingStatus := sampleEvent(StageFetchDone)
	missingStatus.StatusClass = ""
	require.Error(t, missingStatus.Validate())

	missingRun := sampleEvent(StageSourceDone)
	missingRun.RunID = [16]byte{}
	require.Error(t, missingRun.Validate())

	unknown := sampleEvent("NOPE")
	require.Error(t, unknown.Validate())

	negative := sampleEvent(StageBatchFlushed)
	negative.Records = -1
	require.Error(t, negative.Validate())
}

func TestClassifyStatus(t *testing.T) {
	t.Parallel()

	require.Equal(t, Status2xx, ClassifyStatus(0))
	require.Equal(t, Status2xx, ClassifyStatus(204))
	require.Equal(t, Status3xx, ClassifyStatus(301))
	require.Equal(t, Status4xx, ClassifyStatus(404))
	require.Equal(t, Status5xx, ClassifyStatus(503))
	require.Equal(t, StatusOther, ClassifyStatus(99))
}

type stubSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func newStubSink() *stubSink {
	return &stubSink{batches: [][]Event{}}
}

func (s *stubSink) Consume(_ context.Context, batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyBatch := append([]Event(nil), batch...)
	s.batches = append(s.batches, copyBatch)
	return nil
}

func (s *stubSink) Close(context.Context) error {
	return nil
}

func (s *stubSink) Batches() [][]Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Event, len(s.batches))
	for i, b := range s.batches {
		out[i] = append([]Event(nil), b...)
	}
	return out
}

func sampleEvent(stage Stage) Event {
	evt := Event{
		RunID:  UUIDToBytes(uuid.New()),
		TS:     time.Now(),
		Stage:  stage,
		Source: "alza",
	}
	if stage == StageFetchDone {
		evt.StatusClass = Status2xx
	}
	return evt
}
