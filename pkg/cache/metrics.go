package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks lookups that found an entry, fresh or stale
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcache_cache_hits_total",
			Help: "Total number of cache lookups that found an entry",
		},
	)

	// CacheMisses tracks lookups that found nothing
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcache_cache_misses_total",
			Help: "Total number of cache misses",
		},
	)

	// CacheSize tracks bytes of entity bodies written
	CacheSize = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "webcache_cache_written_bytes_total",
			Help: "Total bytes of entity bodies written to the store",
		},
	)

	// StoreErrors tracks failed store operations
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webcache_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"operation"}, // "exists", "mget", "mset", "update"
	)
)
