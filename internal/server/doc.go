// Package server hosts the Fiber diagnostics service: health, storage
// capabilities, per-entry inspection and invalidation, and the Prometheus
// scrape endpoint. All routes other than /metrics live under /-/ and every
// response carries an X-Request-ID header. The app only needs a storage and a
// logger; keep exports narrow and accept explicit dependencies.
package server
