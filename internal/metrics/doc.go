// Package metrics defines the Prometheus collectors for the catalog engine:
// scanner throughput and error counters, metadata store operation timings,
// registry state gauges, thumbnail cache effectiveness, and HTTP request
// metrics for the snapshot API.
package metrics
