// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that crawl engines and the batch writer use to report progress.
// Events are batched on a background goroutine and fanned out to pluggable
// sinks such as logs, Prometheus metrics or the run statistics store.
package progress
