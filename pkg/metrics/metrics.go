package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts count-cache hits by tier (ephemeral|durable).
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_count_cache_hits_total",
			Help: "Total number of count cache hits",
		},
		[]string{"tier"},
	)

	// CacheMisses counts count-cache misses by tier (ephemeral|durable).
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_count_cache_misses_total",
			Help: "Total number of count cache misses",
		},
		[]string{"tier"},
	)

	// LiveCounts counts live database computations by result (ok|error).
	LiveCounts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_live_counts_total",
			Help: "Total number of live count computations",
		},
		[]string{"result"},
	)

	// RetroactiveWrites counts counts cached retroactively after a live computation.
	RetroactiveWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_retroactive_cache_writes_total",
			Help: "Total number of retroactively cached counts",
		},
	)

	// PrecacheRuns counts precache passes by result (ok|partial|panic).
	PrecacheRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tally_precache_runs_total",
			Help: "Total number of precache passes",
		},
		[]string{"result"},
	)

	// PrecacheDuration measures how long a precache pass takes.
	PrecacheDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tally_precache_duration_seconds",
			Help:    "Duration of precache passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// LockContention counts trigger attempts that lost the run lock.
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tally_precache_lock_contention_total",
			Help: "Total number of precache triggers that found the lock held",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tally_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
