// Package metrics defines the Prometheus metrics exported by the ingest
// pipeline: HTTP, database, extraction, job queue, preview, storage and
// promotion counters. All metrics are registered via promauto at init time.
package metrics
