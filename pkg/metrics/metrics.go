// Package metrics registers the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Questions counts answered questions by outcome.
	Questions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spendq_questions_total",
		Help: "Questions by outcome",
	}, []string{"outcome"}) // answered, empty, unavailable, unresolved, incomplete, internal

	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spendq_cache_lookups_total",
		Help: "Result cache lookups by result",
	}, []string{"result"}) // hit, miss, shared

	CacheRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spendq_cache_rejected_writes_total",
		Help: "Cache writes rejected by the invalidation watermark",
	})

	ComputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spendq_compute_duration_seconds",
		Help:    "Plan execution latency on cache miss",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
	}, []string{"kind"})

	RebuildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spendq_rebuild_duration_seconds",
		Help:    "Aggregate table rebuild latency",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	}, []string{"table"})

	RefreshFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spendq_refresh_failures_total",
		Help: "Aggregate table rebuild failures",
	}, []string{"table"})

	PrefetchItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spendq_prefetch_items_total",
		Help: "Prefetch recomputations by outcome",
	}, []string{"outcome"}) // refreshed, discarded_stale, failed
)
