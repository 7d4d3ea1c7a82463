package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/pcspec-crawler/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns the
// collectors for runs, per-source crawls, fetches and persisted batches.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runRuntime    *prometheus.HistogramVec

	sourcesRunning   prometheus.Gauge
	sourcesCompleted *prometheus.CounterVec

	fetchRequests *prometheus.CounterVec
	fetchErrors   *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	batchesFlushed  *prometheus.CounterVec
	recordsFlushed  *prometheus.CounterVec
	persistDuration *prometheus.HistogramVec

	tracker *sourceTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawler_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_runs_completed_total",
			Help: "Total crawl runs completed partitioned by result.",
		}, []string{"result"}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_run_runtime_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		sourcesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawler_sources_running",
			Help: "Current number of source engines crawling.",
		}),
		sourcesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_sources_completed_total",
			Help: "Source crawls completed partitioned by source and result.",
		}, []string{"source", "result"}),
		fetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_requests_total",
			Help: "Fetch completions partitioned by source and status class.",
		}, []string{"source", "status_class"}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_errors_total",
			Help: "Fetch failures per source.",
		}, []string{"source"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_fetch_bytes_total",
			Help: "Bytes downloaded per source.",
		}, []string{"source"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by source and status class.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"source", "status_class"}),
		batchesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_batches_persisted_total",
			Help: "Batches persisted by the writer per source.",
		}, []string{"source"}),
		recordsFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawler_records_persisted_total",
			Help: "Records persisted by the writer per source.",
		}, []string{"source"}),
		persistDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawler_snapshot_write_seconds",
			Help:    "Time spent rewriting a source snapshot.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"source"}),
		tracker: newSourceTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runRuntime,
		s.sourcesRunning,
		s.sourcesCompleted,
		s.fetchRequests,
		s.fetchErrors,
		s.fetchBytes,
		s.fetchDuration,
		s.batchesFlushed,
		s.recordsFlushed,
		s.persistDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
	case progress.StageRunDone:
		s.runsCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageRunError:
		s.runsCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	case progress.StageSourceStart, progress.StageSourceDone, progress.StageSourceError:
		s.handleSourceEvent(evt)
	case progress.StageFetchDone:
		s.handleFetchEvent(evt)
	case progress.StageFetchError:
		s.fetchErrors.WithLabelValues(evt.Source).Inc()
	case progress.StageBatchFlushed:
		s.batchesFlushed.WithLabelValues(evt.Source).Inc()
		s.recordsFlushed.WithLabelValues(evt.Source).Add(float64(evt.Records))
		if evt.Dur > 0 {
			s.persistDuration.WithLabelValues(evt.Source).Observe(evt.Dur.Seconds())
		}
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.runRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleSourceEvent(evt progress.Event) {
	key := sourceKey{run: evt.RunID, source: evt.Source}
	switch evt.Stage {
	case progress.StageSourceStart:
		if s.tracker.start(key) {
			s.sourcesRunning.Inc()
		}
		return
	case progress.StageSourceDone:
		s.sourcesCompleted.WithLabelValues(evt.Source, "success").Inc()
	case progress.StageSourceError:
		s.sourcesCompleted.WithLabelValues(evt.Source, "error").Inc()
	}
	if s.tracker.complete(key) {
		s.sourcesRunning.Dec()
	}
}

func (s *PrometheusSink) handleFetchEvent(evt progress.Event) {
	statusClass := string(evt.StatusClass)
	if statusClass == "" {
		statusClass = string(progress.StatusOther)
	}
	s.fetchRequests.WithLabelValues(evt.Source, statusClass).Inc()
	if evt.Bytes > 0 {
		s.fetchBytes.WithLabelValues(evt.Source).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(evt.Source, statusClass).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sourceKey struct {
	run    [16]byte
	source string
}

type sourceTracker struct {
	mu      sync.Mutex
	running map[sourceKey]struct{}
}

func newSourceTracker() *sourceTracker {
	return &sourceTracker{running: make(map[sourceKey]struct{})}
}

func (t *sourceTracker) start(key sourceKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *sourceTracker) complete(key sourceKey) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
