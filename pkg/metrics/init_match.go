package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initIndexMetrics() {
	r.IndexScansTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_index_scans_total",
			Help: "Index cursors opened by lookup kind",
		},
		[]string{"index", "kind"},
	)

	r.IndexEntriesScanned = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_index_entries_scanned_total",
			Help: "Index entries read through cursors",
		},
		[]string{"index"},
	)
}

func (r *Registry) initMatchMetrics() {
	r.TraversalFanout = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cluso_query_traversal_fanout",
			Help:    "Targets reached per traversed source row",
			Buckets: []float64{0, 1, 2, 5, 10, 50, 100, 1000},
		},
		[]string{"edge", "direction"},
	)

	r.PrefetchedAliases = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_query_prefetched_aliases_total",
			Help: "Pattern aliases materialized up front",
		},
	)

	r.PatternComponents = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cluso_query_pattern_components",
			Help:    "Connected components per MATCH pattern",
			Buckets: []float64{1, 2, 3, 5, 10},
		},
	)
}

func (r *Registry) initCacheMetrics() {
	r.PlanCacheHits = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_query_plan_cache_hits_total",
			Help: "Plan cache hits",
		},
	)

	r.PlanCacheMisses = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_query_plan_cache_misses_total",
			Help: "Plan cache misses",
		},
	)

	r.PlanCacheEntries = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "cluso_query_plan_cache_entries",
			Help: "Plans currently cached",
		},
	)
}

func (r *Registry) initStorageMetrics() {
	r.StorageOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_storage_operations_total",
			Help: "Record store operations by outcome",
		},
		[]string{"operation", "status"},
	)

	r.StorageConflictsTotal = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "cluso_query_storage_conflicts_total",
			Help: "Optimistic transaction conflicts",
		},
	)
}
