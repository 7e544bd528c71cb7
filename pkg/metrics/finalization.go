package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Effect outcomes reported by the finalization orchestrator.
const (
	OutcomeRan     = "ran"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

// FinalizationMetrics records how payment finalization and verification behave.
type FinalizationMetrics struct {
	effects      *prometheus.CounterVec
	coreDuration prometheus.Histogram
	verification *prometheus.CounterVec
}

// NewFinalizationMetrics registers the finalization metrics on the provided registerer.
func NewFinalizationMetrics(reg prometheus.Registerer) *FinalizationMetrics {
	if reg == nil {
		return &FinalizationMetrics{}
	}
	effects := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "finalization_effect_total",
		Help: "Finalization effects by outcome.",
	}, []string{"effect", "outcome"})
	coreDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "finalization_core_duration_seconds",
		Help:    "Duration of the atomic finalization transaction.",
		Buckets: prometheus.DefBuckets,
	})
	verification := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_verification_total",
		Help: "Payment verifications by path and resulting status.",
	}, []string{"path", "status"})
	reg.MustRegister(effects, coreDuration, verification)
	return &FinalizationMetrics{
		effects:      effects,
		coreDuration: coreDuration,
		verification: verification,
	}
}

// IncEffect counts one effect outcome.
func (f *FinalizationMetrics) IncEffect(effect, outcome string) {
	if f == nil || f.effects == nil {
		return
	}
	f.effects.WithLabelValues(normalizeLabel(effect), normalizeLabel(outcome)).Inc()
}

// ObserveCore records the duration of one atomic finalization unit.
func (f *FinalizationMetrics) ObserveCore(duration time.Duration) {
	if f == nil || f.coreDuration == nil {
		return
	}
	f.coreDuration.Observe(duration.Seconds())
}

// IncVerification counts a verification attempt on the pull or push path.
func (f *FinalizationMetrics) IncVerification(path, status string) {
	if f == nil || f.verification == nil {
		return
	}
	f.verification.WithLabelValues(normalizeLabel(path), normalizeLabel(status)).Inc()
}
