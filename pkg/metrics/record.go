package metrics

import (
	"time"
)

// RecordStatement records a completed statement
func (r *Registry) RecordStatement(statement, status string, duration time.Duration, rows int) {
	r.QueriesTotal.WithLabelValues(statement, status).Inc()
	r.QueryDuration.WithLabelValues(statement).Observe(duration.Seconds())
	r.QueryRows.WithLabelValues(statement).Observe(float64(rows))

	if duration > time.Second {
		r.SlowQueries.WithLabelValues(statement).Inc()
	}
}

// RecordPull records one pull call served by a step
func (r *Registry) RecordPull(step string, rows int, duration time.Duration) {
	r.StepPullsTotal.WithLabelValues(step).Inc()
	r.StepRowsTotal.WithLabelValues(step).Add(float64(rows))
	r.StepPullDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordTimeout counts an expired TIMEOUT step
func (r *Registry) RecordTimeout(strategy string) {
	r.TimeoutsTotal.WithLabelValues(strategy).Inc()
}

// RecordRetry counts a RETRY attempt; outcome is "retried", "succeeded" or "exhausted".
func (r *Registry) RecordRetry(outcome string) {
	r.RetriesTotal.WithLabelValues(outcome).Inc()
}

// RecordIndexScan counts an opened index cursor
func (r *Registry) RecordIndexScan(index, kind string) {
	r.IndexScansTotal.WithLabelValues(index, kind).Inc()
}

// RecordIndexEntries adds to the number of entries read from an index
func (r *Registry) RecordIndexEntries(index string, n int) {
	r.IndexEntriesScanned.WithLabelValues(index).Add(float64(n))
}

// RecordFanout observes the targets reached from one source row
func (r *Registry) RecordFanout(edge, direction string, targets int) {
	r.TraversalFanout.WithLabelValues(edge, direction).Observe(float64(targets))
}

// RecordStorageOperation records a record-store operation
func (r *Registry) RecordStorageOperation(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.StorageOperationsTotal.WithLabelValues(operation, status).Inc()
}
