// Package metrics holds the Prometheus collectors of the sync engine. They
// register with the default registry, which the HTTP bridge serves on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts request cache lookups by endpoint and result
	// (hit, miss, coalesced).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_cache_lookups_total",
		Help: "Request cache lookups by endpoint and result",
	}, []string{"endpoint", "result"})

	// CacheRequests counts network requests issued by the cache by outcome.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_cache_requests_total",
		Help: "Network requests issued by the request cache by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	// RequestDuration tracks catalog request latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalogsync_request_duration_seconds",
		Help:    "Catalog request duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"endpoint"})

	// Prefetches counts speculative next-page loads by stage
	// (scheduled, issued, skipped, cancelled, failed).
	Prefetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_prefetch_total",
		Help: "Speculative prefetches by stage",
	}, []string{"stage"})

	// URLWrites counts reflector decisions (replaced, unchanged).
	URLWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "catalogsync_url_writes_total",
		Help: "Address bar reflections by result",
	}, []string{"result"})

	// PollRetries counts compilation poll re-fetches.
	PollRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalogsync_poll_retries_total",
		Help: "Compilation poll re-fetches",
	})

	// PollCompletions counts goals whose compilation finished while tracked.
	PollCompletions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "catalogsync_poll_completions_total",
		Help: "Goal compilations observed to finish",
	})

	// ActiveSessions is the number of open browsing sessions.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "catalogsync_active_sessions",
		Help: "Open browsing sessions",
	})
)
