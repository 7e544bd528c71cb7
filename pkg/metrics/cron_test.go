package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsExportsRunsAndCycles(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewCronJobMetrics(reg)
	metrics.ObserveRun("finalization-sweep", JobSucceeded, 250*time.Millisecond)
	metrics.ObserveRun("finalization-sweep", JobTimedOut, time.Second)
	metrics.IncCycle(true)
	metrics.IncCycle(false)
	metrics.IncCycle(false)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "settlement_cron_job_runs_total")
	if runs == nil || len(runs.GetMetric()) != 2 {
		t.Fatalf("expected two job run series, got %v", runs)
	}
	for _, m := range runs.GetMetric() {
		if !matchesLabel(m.GetLabel(), "job", "finalization-sweep") {
			t.Fatalf("unexpected labels %v", m.GetLabel())
		}
		if m.GetCounter().GetValue() != 1 {
			t.Fatalf("expected one run per outcome, got %f", m.GetCounter().GetValue())
		}
	}

	if got, err := fetchCounterValue(mfs, "settlement_cron_cycles_total", "leader", "false"); err != nil {
		t.Fatalf("fetch cycles: %v", err)
	} else if got != 2 {
		t.Fatalf("expected 2 follower cycles, got %f", got)
	}

	if got, err := fetchHistogramSum(mfs, "settlement_cron_job_duration_seconds", "job", "finalization-sweep"); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got != 1.25 {
		t.Fatalf("expected duration sum 1.25, got %f", got)
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var nilMetrics *CronJobMetrics
	nilMetrics.ObserveRun("x", JobFailed, time.Second)
	nilMetrics.IncCycle(true)
	NewCronJobMetrics(nil).ObserveRun("", "", 0)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
