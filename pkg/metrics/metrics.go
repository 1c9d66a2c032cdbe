// Package metrics exposes the Prometheus registry shared by the proxy
// packages. Metrics are defined next to the code that records them (cache,
// store, origin, proxy) via promauto; this package only serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is where every webcache_* metric is registered.
var Registry = prometheus.DefaultRegisterer

// Gatherer is read by Handler.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Proxy Metrics (pkg/proxy):
//   - webcache_requests_total{result} (Counter): Client requests by result
//     (hit, miss, revalidated, refreshed, passthrough, error)
//   - webcache_request_duration_seconds{result} (Histogram): Time to serve a client request
//   - webcache_revalidations_total{outcome} (Counter): Stale-entry revalidations by
//     outcome (not_modified, modified, other)
//   - webcache_active_connections (Gauge): Client connections being served
//
// Cache Metrics (pkg/cache):
//   - webcache_cache_hits_total (Counter): Lookups that found an entry
//   - webcache_cache_misses_total (Counter): Lookups that found nothing
//   - webcache_cache_written_bytes_total (Counter): Entity body bytes written to the store
//   - webcache_store_errors_total{operation} (Counter): Failed store operations
//
// Store Metrics (pkg/store):
//   - webcache_store_connect_retries_total (Counter): Failed pings while connecting
//
// Origin Metrics (pkg/origin):
//   - webcache_origin_requests_total{kind, status} (Counter): Origin requests by
//     kind (unconditional, conditional) and status
//   - webcache_origin_request_duration_seconds{kind} (Histogram): Origin request duration
//   - webcache_origin_errors_total{reason} (Counter): Origin failures by step
//     (dial, write, read, parse)
//
// Example Prometheus Queries:
//
//   # Fresh hit ratio
//   sum(rate(webcache_requests_total{result="hit"}[5m])) /
//   sum(rate(webcache_requests_total[5m]))
//
//   # Revalidations answered with 304
//   rate(webcache_revalidations_total{outcome="not_modified"}[5m])
//
//   # P95 origin latency
//   histogram_quantile(0.95, rate(webcache_origin_request_duration_seconds_bucket[5m]))
