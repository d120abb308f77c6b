// Package metrics exposes prometheus instrumentation for statement execution,
// individual steps, index scans, pattern traversal and the plan cache.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all query-engine metrics
type Registry struct {
	// Statement metrics
	QueriesTotal  *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryRows     *prometheus.HistogramVec
	SlowQueries   *prometheus.CounterVec

	// Step metrics
	StepPullsTotal   *prometheus.CounterVec
	StepRowsTotal    *prometheus.CounterVec
	StepPullDuration *prometheus.HistogramVec
	TimeoutsTotal    *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec

	// Index metrics
	IndexScansTotal     *prometheus.CounterVec
	IndexEntriesScanned *prometheus.CounterVec

	// Pattern matching metrics
	TraversalFanout   *prometheus.HistogramVec
	PrefetchedAliases prometheus.Counter
	PatternComponents prometheus.Histogram

	// Plan cache metrics
	PlanCacheHits    prometheus.Counter
	PlanCacheMisses  prometheus.Counter
	PlanCacheEntries prometheus.Gauge

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageConflictsTotal  prometheus.Counter

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the process-wide registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with every metric registered on a fresh
// prometheus registry, so independent engines (and tests) never collide.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}

	r.initQueryMetrics()
	r.initStepMetrics()
	r.initIndexMetrics()
	r.initMatchMetrics()
	r.initCacheMetrics()
	r.initStorageMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
