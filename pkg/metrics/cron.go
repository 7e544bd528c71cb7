package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const cronNamespace = "settlement_cron"

// Cron job outcomes.
const (
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobTimedOut  = "timed_out"
)

// CronJobMetrics tracks scheduled maintenance jobs and leader election.
type CronJobMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
	cycles   *prometheus.CounterVec
}

func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return &CronJobMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cronNamespace,
		Name:      "job_duration_seconds",
		Help:      "Duration of cron jobs in seconds.",
		Buckets:   []float64{0.05, 0.25, 1, 5, 15, 60, 180, 600},
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cronNamespace,
		Name:      "job_runs_total",
		Help:      "Cron job executions by outcome.",
	}, []string{"job", "outcome"})
	cycles := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cronNamespace,
		Name:      "cycles_total",
		Help:      "Cron cycles by whether this replica held the lock.",
	}, []string{"leader"})
	reg.MustRegister(duration, runs, cycles)
	return &CronJobMetrics{
		duration: duration,
		runs:     runs,
		cycles:   cycles,
	}
}

// ObserveRun records one job execution.
func (c *CronJobMetrics) ObserveRun(job, outcome string, duration time.Duration) {
	if c == nil || c.duration == nil {
		return
	}
	job = normalizeLabel(job)
	c.duration.WithLabelValues(job).Observe(duration.Seconds())
	c.runs.WithLabelValues(job, normalizeLabel(outcome)).Inc()
}

// IncCycle counts one scheduler tick.
func (c *CronJobMetrics) IncCycle(leader bool) {
	if c == nil || c.cycles == nil {
		return
	}
	label := "false"
	if leader {
		label = "true"
	}
	c.cycles.WithLabelValues(label).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
