package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const outboxNamespace = "settlement_outbox"

// Outbox delivery outcomes.
const (
	DeliveryPublished    = "published"
	DeliveryRetry        = "retry"
	DeliveryDeadLettered = "dead_lettered"
)

// OutboxMetrics tracks the outbox publisher.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	publish    *prometheus.HistogramVec
	batch      prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: outboxNamespace,
		Name:      "deliveries_total",
		Help:      "Outbox rows handled by the publisher, by event type and outcome.",
	}, []string{"event_type", "outcome"})
	publish := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: outboxNamespace,
		Name:      "publish_duration_seconds",
		Help:      "Time until every topic acknowledged an outbox row.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})
	batch := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: outboxNamespace,
		Name:      "batch_rows",
		Help:      "Rows claimed per publisher batch.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250},
	})
	reg.MustRegister(deliveries, publish, batch)
	return &OutboxMetrics{deliveries: deliveries, publish: publish, batch: batch}
}

func (o *OutboxMetrics) IncDelivery(eventType, outcome string) {
	if o == nil || o.deliveries == nil {
		return
	}
	o.deliveries.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (o *OutboxMetrics) ObservePublish(eventType string, duration time.Duration) {
	if o == nil || o.publish == nil {
		return
	}
	o.publish.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// ObserveBatch records a non-empty batch.
func (o *OutboxMetrics) ObserveBatch(rows int) {
	if o == nil || o.batch == nil || rows == 0 {
		return
	}
	o.batch.Observe(float64(rows))
}
