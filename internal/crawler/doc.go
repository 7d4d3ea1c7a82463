// Package crawler implements the two-phase product crawl: the listing
// frontier, the detail URL set, the per-source engine state machine, and the
// contracts it shares with page loaders, site strategies and the batch writer.
package crawler
