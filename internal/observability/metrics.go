// Package observability holds the Prometheus collectors of the service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "splitride"

var (
	FareRecalculations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fare_recalculations_total",
		Help:      "Fare allocations persisted on a ride",
	})
	ConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ride_conflict_retries_total",
		Help:      "Ride writes retried after a version conflict",
	})
	ConflictsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ride_conflicts_exhausted_total",
		Help:      "Ride transitions that failed after every retry",
	})
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "ride_transitions_total", Help: "Successful ride transitions"},
		[]string{"transition"},
	)
	BroadcastFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "broadcast_failures_total", Help: "Swallowed real-time delivery failures"},
		[]string{"scope"},
	)
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Open websocket connections",
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: namespace, Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
