package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initQueryMetrics() {
	r.QueriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_statements_total",
			Help: "Total number of statements executed",
		},
		[]string{"statement", "status"},
	)

	r.QueryDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cluso_query_statement_duration_seconds",
			Help:    "Statement execution duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
		},
		[]string{"statement"},
	)

	r.QueryRows = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cluso_query_statement_rows",
			Help:    "Rows returned per statement",
			Buckets: []float64{0, 1, 10, 100, 1000, 10000, 100000},
		},
		[]string{"statement"},
	)

	r.SlowQueries = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_slow_statements_total",
			Help: "Total number of statements slower than one second",
		},
		[]string{"statement"},
	)
}

func (r *Registry) initStepMetrics() {
	r.StepPullsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_step_pulls_total",
			Help: "Pull calls served per step kind",
		},
		[]string{"step"},
	)

	r.StepRowsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_step_rows_total",
			Help: "Rows produced per step kind",
		},
		[]string{"step"},
	)

	r.StepPullDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cluso_query_step_pull_duration_seconds",
			Help:    "Time spent in a single pull, including upstream",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
		},
		[]string{"step"},
	)

	r.TimeoutsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_timeouts_total",
			Help: "Statement timeouts by failure strategy",
		},
		[]string{"strategy"},
	)

	r.RetriesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "cluso_query_retries_total",
			Help: "RETRY attempts by outcome",
		},
		[]string{"outcome"},
	)
}
