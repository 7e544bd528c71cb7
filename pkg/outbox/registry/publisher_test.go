package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

func TestEventRegistryResolveSuccess(t *testing.T) {
	reg := newTestEventRegistry(t)

	paymentID := uuid.New()
	payloadBytes := mustMarshal(t, payloads.PaymentPaidEvent{
		PaymentID:   paymentID,
		OrderID:     uuid.New(),
		Reference:   "PAY-260101-ABCDEFGH",
		AmountMinor: 500000,
	})

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentPaid,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   paymentID,
		Payload:       mustEnvelope(t, payloadBytes),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"payments-topic", "analytics-topic"}; !equalStrings(resolved.Descriptor.Topics, want) {
		t.Fatalf("unexpected topics %v", resolved.Descriptor.Topics)
	}
	payload, ok := resolved.Payload.(*payloads.PaymentPaidEvent)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.PaymentID != paymentID || payload.AmountMinor != 500000 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope missing event id")
	}
}

func TestEventRegistryRoutesByTopic(t *testing.T) {
	reg := newTestEventRegistry(t)

	profit := models.OutboxEvent{
		EventType:     enums.EventProfitComputed,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, mustMarshal(t, payloads.ProfitComputedEvent{ProfitMinor: 10})),
	}
	resolved, err := reg.Resolve(profit)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !equalStrings(resolved.Descriptor.Topics, []string{"analytics-topic"}) {
		t.Fatalf("unexpected topics %v", resolved.Descriptor.Topics)
	}

	want := []string{"analytics-topic", "notification-topic", "payments-topic"}
	if topics := reg.Topics(); !equalStrings(topics, want) {
		t.Fatalf("unexpected topics %v", topics)
	}
}

func TestEventRegistryRejectsUnknownSchemaVersion(t *testing.T) {
	reg := newTestEventRegistry(t)
	envelope, _ := json.Marshal(outbox.PayloadEnvelope{
		Version: 2,
		EventID: uuid.NewString(),
		Data:    json.RawMessage(`{"reference":"PAY-1"}`),
	})
	_, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentPaid,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       envelope,
	})
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) || !errors.Is(err, ErrNoDecoder) {
		t.Fatalf("expected non-retryable ErrNoDecoder, got %v", err)
	}
}

func equalStrings(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEventRegistryResolveUnknownEvent(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.OutboxEventType("refund_requested"),
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"reason":"none"}`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveAggregateMismatch(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte(`{"reference":"PAY-1"}`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveMissingAggregateID(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentPaid,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.Nil,
		Payload:       mustEnvelope(t, []byte(`{}`)),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestEventRegistryResolveNullPayload(t *testing.T) {
	reg := newTestEventRegistry(t)

	event := models.OutboxEvent{
		EventType:     enums.EventPaymentPaid,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   uuid.New(),
		Payload:       mustEnvelope(t, []byte("null")),
	}

	_, err := reg.Resolve(event)
	var nonRetry NonRetryableError
	if !errors.As(err, &nonRetry) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.PubSubConfig{NotificationTopic: "n", AnalyticsTopic: "a"}); err == nil {
		t.Fatal("expected error for missing payments topic")
	}
}

func newTestEventRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	cfg := config.PubSubConfig{
		PaymentsTopic:     "payments-topic",
		NotificationTopic: "notification-topic",
		AnalyticsTopic:    "analytics-topic",
	}
	reg, err := NewEventRegistry(cfg)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
