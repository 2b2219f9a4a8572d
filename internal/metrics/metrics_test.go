package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Settlements.WithLabelValues("completed").Inc()
	m.Settlements.WithLabelValues("completed").Inc()
	m.Reconciliations.Inc()

	if got := testutil.ToFloat64(m.Settlements.WithLabelValues("completed")); got != 2 {
		t.Fatalf("completed settlements = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Reconciliations); got != 1 {
		t.Fatalf("reconciliations = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg, "course_ledger_settlements_total"); err != nil || n != 1 {
		t.Fatalf("gathered %d series, err %v", n, err)
	}
}

func TestNopIsIndependent(t *testing.T) {
	a, b := Nop(), Nop()
	a.GrantRetries.Inc()
	if got := testutil.ToFloat64(b.GrantRetries); got != 0 {
		t.Fatalf("nop metrics share state: %v", got)
	}
}
