// Package cmd implements the pcspec-crawler command line.
//
// Commands:
//   - run: crawl every enabled source (or those named by --source) once and
//     write one JSON snapshot per source to the configured output backend.
//     The process exits non-zero when any source failed.
//   - sources: list configured sources and the registered site strategies.
//
// Configuration comes from the file passed with --config, overridden by
// CRAWLER_* environment variables (e.g. CRAWLER_OUTPUT_DIR,
// CRAWLER_CRAWLER_DELAY_MS, CRAWLER_SERVER_PORT).
package cmd
