// Package api hosts the read-only status server of a crawl. Routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/sources and /v1/sources/{source} for the live per-source state.
//   - GET /v1/runs/{run_id} and /v1/runs/{run_id}/sources for persisted run
//     progress via the store.RunRepository interface.
package api
