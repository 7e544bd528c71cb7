package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestFinalizationMetricsCountEffects(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewFinalizationMetrics(reg)

	m.IncEffect("receipt", OutcomeRan)
	m.IncEffect("receipt", OutcomeRan)
	m.IncEffect("payouts", OutcomeFailed)
	m.IncVerification("push", "paid")
	m.ObserveCore(15 * time.Millisecond)

	if got := testutil.ToFloat64(m.effects.WithLabelValues("receipt", OutcomeRan)); got != 2 {
		t.Fatalf("expected receipt ran=2, got %f", got)
	}
	if got := testutil.ToFloat64(m.effects.WithLabelValues("payouts", OutcomeFailed)); got != 1 {
		t.Fatalf("expected payouts failed=1, got %f", got)
	}
	if got := testutil.ToFloat64(m.verification.WithLabelValues("push", "paid")); got != 1 {
		t.Fatalf("expected push paid=1, got %f", got)
	}

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	if findMetricFamily(mfs, "finalization_core_duration_seconds") == nil {
		t.Fatal("expected core duration histogram")
	}
}

func TestFinalizationMetricsNilSafe(t *testing.T) {
	var m *FinalizationMetrics
	m.IncEffect("receipt", OutcomeRan)
	m.ObserveCore(time.Second)
	m.IncVerification("pull", "pending")

	empty := NewFinalizationMetrics(nil)
	empty.IncEffect("receipt", OutcomeSkipped)
}
