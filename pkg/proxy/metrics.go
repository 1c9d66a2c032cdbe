package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Request outcomes used as the result label.
const (
	resultHit         = "hit"
	resultMiss        = "miss"
	resultRevalidated = "revalidated"
	resultRefreshed   = "refreshed"
	resultPassthrough = "passthrough"
	resultError       = "error"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcache_requests_total",
		Help: "Total client requests by result",
	}, []string{"result"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webcache_request_duration_seconds",
		Help:    "Client request handling duration in seconds by result",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"result"})

	revalidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcache_revalidations_total",
		Help: "Total conditional revalidations by outcome",
	}, []string{"outcome"}) // "not_modified", "modified", "other"

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webcache_active_connections",
		Help: "Client connections currently being handled",
	})
)
