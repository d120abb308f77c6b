package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}
	if r.QueriesTotal == nil || r.StepPullsTotal == nil || r.IndexScansTotal == nil {
		t.Error("metrics not initialized")
	}
	if r.GetPrometheusRegistry() == nil {
		t.Error("Prometheus registry not initialized")
	}

	// Two registries must not collide on registration.
	if NewRegistry() == r {
		t.Error("NewRegistry should return a fresh registry")
	}
}

func TestDefaultRegistry(t *testing.T) {
	if DefaultRegistry() != DefaultRegistry() {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestRecordStatement(t *testing.T) {
	r := NewRegistry()

	r.RecordStatement("SELECT", "success", 10*time.Millisecond, 3)
	r.RecordStatement("SELECT", "success", 2*time.Second, 0)
	r.RecordStatement("MATCH", "error", time.Millisecond, 0)

	counter, err := r.QueriesTotal.GetMetricWithLabelValues("SELECT", "success")
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Counter.GetValue() != 2 {
		t.Errorf("SELECT success = %v, want 2", metric.Counter.GetValue())
	}

	if got := testutil.ToFloat64(r.SlowQueries.WithLabelValues("SELECT")); got != 1 {
		t.Errorf("slow SELECT = %v, want 1", got)
	}
}

func TestRecordPull(t *testing.T) {
	r := NewRegistry()

	r.RecordPull("FilterStep", 5, time.Microsecond)
	r.RecordPull("FilterStep", 0, time.Microsecond)

	if got := testutil.ToFloat64(r.StepPullsTotal.WithLabelValues("FilterStep")); got != 2 {
		t.Errorf("pulls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.StepRowsTotal.WithLabelValues("FilterStep")); got != 5 {
		t.Errorf("rows = %v, want 5", got)
	}
}

func TestControlAndStorageCounters(t *testing.T) {
	r := NewRegistry()

	r.RecordTimeout("RETURN")
	r.RecordRetry("retried")
	r.RecordRetry("retried")
	r.RecordRetry("exhausted")
	r.RecordIndexScan("Person.name", "point")
	r.RecordIndexEntries("Person.name", 7)
	r.RecordStorageOperation("save", nil)
	r.RecordStorageOperation("save", errors.New("conflict"))
	r.StorageConflictsTotal.Inc()

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"timeouts", testutil.ToFloat64(r.TimeoutsTotal.WithLabelValues("RETURN")), 1},
		{"retried", testutil.ToFloat64(r.RetriesTotal.WithLabelValues("retried")), 2},
		{"exhausted", testutil.ToFloat64(r.RetriesTotal.WithLabelValues("exhausted")), 1},
		{"index scans", testutil.ToFloat64(r.IndexScansTotal.WithLabelValues("Person.name", "point")), 1},
		{"index entries", testutil.ToFloat64(r.IndexEntriesScanned.WithLabelValues("Person.name")), 7},
		{"save ok", testutil.ToFloat64(r.StorageOperationsTotal.WithLabelValues("save", "success")), 1},
		{"save error", testutil.ToFloat64(r.StorageOperationsTotal.WithLabelValues("save", "error")), 1},
		{"conflicts", testutil.ToFloat64(r.StorageConflictsTotal), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestRecordFanoutExposed(t *testing.T) {
	r := NewRegistry()
	r.RecordFanout("Friend", "out", 3)

	expected := `
# HELP cluso_query_prefetched_aliases_total Pattern aliases materialized up front
# TYPE cluso_query_prefetched_aliases_total counter
cluso_query_prefetched_aliases_total 1
`
	r.PrefetchedAliases.Inc()
	if err := testutil.GatherAndCompare(r.GetPrometheusRegistry(), strings.NewReader(expected), "cluso_query_prefetched_aliases_total"); err != nil {
		t.Error(err)
	}
	if n := testutil.CollectAndCount(r.TraversalFanout); n != 1 {
		t.Errorf("fanout series = %d, want 1", n)
	}
}
