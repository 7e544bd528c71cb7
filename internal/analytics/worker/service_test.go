package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/router"
	"github.com/doncapon/yemisshop-sub004/internal/analytics/types"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/idempotency"
)

func TestParseEnvelope(t *testing.T) {
	payload := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    "evt-1",
		OccurredAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Data:       json.RawMessage(`{"payment_id":"pay-1"}`),
	}
	msg := buildMessage(payload, map[string]string{
		"event_type":     "profit_computed",
		"aggregate_type": "payment_intent",
		"aggregate_id":   " pay-1 ",
	})

	env, err := parseEnvelope(msg)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if env.EventType != enums.EventProfitComputed {
		t.Fatalf("unexpected event type %v", env.EventType)
	}
	if env.AggregateType != enums.AggregatePaymentIntent {
		t.Fatalf("unexpected aggregate type %v", env.AggregateType)
	}
	if env.AggregateID != "pay-1" {
		t.Fatalf("unexpected aggregate id %q", env.AggregateID)
	}
	if env.EventID != "evt-1" || env.Version != 1 {
		t.Fatalf("unexpected identity %s v%d", env.EventID, env.Version)
	}
	if !env.OccurredAt.Equal(payload.OccurredAt) {
		t.Fatalf("unexpected occurred at %v", env.OccurredAt)
	}
}

func TestParseEnvelopeFallsBackToAttributes(t *testing.T) {
	created := time.Date(2026, 1, 5, 8, 30, 0, 0, time.UTC)
	eventID := uuid.NewString()
	msg := buildMessage(outbox.PayloadEnvelope{Version: 1}, map[string]string{
		"event_type":     "payment_paid",
		"aggregate_type": "payment_intent",
		"aggregate_id":   "pay-2",
		"event_id":       eventID,
		"created_at":     created.Format(time.RFC3339Nano),
	})

	env, err := parseEnvelope(msg)
	if err != nil {
		t.Fatalf("parse envelope: %v", err)
	}
	if env.EventID != eventID {
		t.Fatalf("expected attribute event id, got %s", env.EventID)
	}
	if !env.OccurredAt.Equal(created) {
		t.Fatalf("expected created_at fallback, got %v", env.OccurredAt)
	}
}

func TestParseEnvelopeRejects(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown event type": {"event_type": "order_created", "aggregate_type": "payment_intent", "aggregate_id": "pay-1"},
		"unknown aggregate":  {"event_type": "payment_paid", "aggregate_type": "cart", "aggregate_id": "pay-1"},
		"missing aggregate":  {"event_type": "payment_paid", "aggregate_type": "payment_intent"},
	}
	for name, attrs := range cases {
		t.Run(name, func(t *testing.T) {
			msg := buildMessage(outbox.PayloadEnvelope{EventID: uuid.NewString()}, attrs)
			if _, err := parseEnvelope(msg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestProcessHandlesEventOnce(t *testing.T) {
	claims := newStubClaims()
	handler := &stubHandler{}
	svc := newTestService(handler, claims)
	msg := buildAnalyticsMessage()

	if svc.process(context.Background(), msg).nack {
		t.Fatal("expected ack")
	}
	if handler.calls != 1 || handler.envelope.EventType != enums.EventProfitComputed {
		t.Fatalf("handler not invoked with profit envelope: %+v", handler.envelope)
	}
	if svc.process(context.Background(), msg).nack {
		t.Fatal("redelivery of a completed event should ack")
	}
	if handler.calls != 1 {
		t.Fatalf("expected one handler call, got %d", handler.calls)
	}
}

func TestProcessClaimFailureRetries(t *testing.T) {
	claims := newStubClaims()
	claims.err = errors.New("redis down")
	handler := &stubHandler{}
	svc := newTestService(handler, claims)

	if !svc.process(context.Background(), buildAnalyticsMessage()).nack {
		t.Fatal("expected nack when idempotency store fails")
	}
	if handler.calls != 0 {
		t.Fatal("handler should not run without a claim")
	}
}

func TestProcessInFlightRetries(t *testing.T) {
	claims := newStubClaims()
	handler := &stubHandler{}
	svc := newTestService(handler, claims)
	msg := buildAnalyticsMessage()
	var stored outbox.PayloadEnvelope
	_ = json.Unmarshal(msg.Data, &stored)
	claims.states[uuid.MustParse(stored.EventID)] = idempotency.ClaimInFlight

	if !svc.process(context.Background(), msg).nack {
		t.Fatal("expected nack while another delivery holds the claim")
	}
	if handler.calls != 0 {
		t.Fatal("handler should not run")
	}
}

func TestProcessHandlerErrorReleasesClaim(t *testing.T) {
	claims := newStubClaims()
	handler := &stubHandler{err: errors.New("boom")}
	svc := newTestService(handler, claims)

	if !svc.process(context.Background(), buildAnalyticsMessage()).nack {
		t.Fatal("expected nack on handler error")
	}
	if len(claims.released) != 1 {
		t.Fatalf("expected claim release on failure, got %d", len(claims.released))
	}
	if len(claims.states) != 0 {
		t.Fatalf("released event should be claimable, states=%v", claims.states)
	}
}

func TestProcessInvalidEnvelopeAcks(t *testing.T) {
	claims := newStubClaims()
	handler := &stubHandler{}
	svc := newTestService(handler, claims)

	if svc.process(context.Background(), &gcppubsub.Message{Data: []byte("invalid json")}).nack {
		t.Fatal("invalid envelope should ack")
	}
	if handler.calls != 0 || len(claims.states) != 0 {
		t.Fatal("nothing should run for an invalid envelope")
	}
}

func TestProcessUnsupportedEventCompletes(t *testing.T) {
	claims := newStubClaims()
	svc := newTestService(&stubHandler{err: router.ErrUnsupportedEventType}, claims)

	if svc.process(context.Background(), buildAnalyticsMessage()).nack {
		t.Fatal("unsupported event should ack")
	}
	if len(claims.released) != 0 {
		t.Fatal("unsupported event should not release its claim")
	}
	for _, state := range claims.states {
		if state != idempotency.ClaimDone {
			t.Fatalf("expected done claim, got %s", state)
		}
	}
}

func buildAnalyticsMessage() *gcppubsub.Message {
	payload := outbox.PayloadEnvelope{
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       json.RawMessage(`{"profit_minor":395}`),
	}
	return buildMessage(payload, map[string]string{
		"event_type":     "profit_computed",
		"aggregate_type": "payment_intent",
		"aggregate_id":   "abc-123",
	})
}

func buildMessage(payload outbox.PayloadEnvelope, attrs map[string]string) *gcppubsub.Message {
	data, _ := json.Marshal(payload)
	return &gcppubsub.Message{ID: "msg-1", Data: data, Attributes: attrs}
}

func newTestService(handler Handler, claims *stubClaims) *Service {
	return &Service{
		handler: handler,
		claims:  claims,
		logg:    logger.New(logger.Options{ServiceName: "analytics-test", Level: logger.ParseLevel("error")}),
	}
}

type stubHandler struct {
	calls    int
	envelope types.Envelope
	err      error
}

func (h *stubHandler) Handle(_ context.Context, envelope types.Envelope) error {
	h.calls++
	h.envelope = envelope
	return h.err
}

type stubClaims struct {
	states   map[uuid.UUID]idempotency.Claim
	released []uuid.UUID
	err      error
}

func newStubClaims() *stubClaims {
	return &stubClaims{states: map[uuid.UUID]idempotency.Claim{}}
}

func (s *stubClaims) Claim(_ context.Context, _ string, eventID uuid.UUID) (idempotency.Claim, error) {
	if s.err != nil {
		return idempotency.ClaimInFlight, s.err
	}
	if state, ok := s.states[eventID]; ok {
		return state, nil
	}
	s.states[eventID] = idempotency.ClaimInFlight
	return idempotency.ClaimAcquired, nil
}

func (s *stubClaims) Complete(_ context.Context, _ string, eventID uuid.UUID) error {
	s.states[eventID] = idempotency.ClaimDone
	return nil
}

func (s *stubClaims) Release(_ context.Context, _ string, eventID uuid.UUID) error {
	delete(s.states, eventID)
	s.released = append(s.released, eventID)
	return nil
}
