package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(DispatchOutcomes.WithLabelValues("metrics_test_list", "generated"))
	RecordDispatch("metrics_test_list", "generated", 250*time.Millisecond)
	RecordDispatch("metrics_test_list", "generated", time.Second)

	after := testutil.ToFloat64(DispatchOutcomes.WithLabelValues("metrics_test_list", "generated"))
	if after-before != 2 {
		t.Fatalf("expected 2 recorded dispatches, got %v", after-before)
	}
	if count := testutil.CollectAndCount(DispatchDuration); count == 0 {
		t.Fatalf("expected duration observations to be collected")
	}
}

func TestRecordCollaboratorFailure(t *testing.T) {
	before := testutil.ToFloat64(CollaboratorFailures.WithLabelValues("mail"))
	RecordCollaboratorFailure("mail")
	if got := testutil.ToFloat64(CollaboratorFailures.WithLabelValues("mail")); got-before != 1 {
		t.Fatalf("expected one failure, got %v", got-before)
	}
}

func TestMetricsLint(t *testing.T) {
	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, problem := range problems {
		t.Errorf("lint problem on %s: %s", problem.Metric, problem.Text)
	}
}
