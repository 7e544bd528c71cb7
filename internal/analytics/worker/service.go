package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
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

const analyticsConsumerName = "analytics"

// Handler writes one settlement envelope to the warehouse.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope) error
}

// HandlerFunc adapts functions to the Handler interface.
type HandlerFunc func(ctx context.Context, envelope types.Envelope) error

func (fn HandlerFunc) Handle(ctx context.Context, envelope types.Envelope) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, envelope)
}

type eventClaimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Claim, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Service drains the analytics subscription. Each outbox event is claimed
// before it is handled so concurrent redeliveries write a single row.
type Service struct {
	subscription *gcppubsub.Subscriber
	handler      Handler
	claims       eventClaimer
	logg         *logger.Logger
}

func NewService(subscription *gcppubsub.Subscriber, handler Handler, claims eventClaimer, logg *logger.Logger) (*Service, error) {
	switch {
	case subscription == nil:
		return nil, errors.New("analytics subscription is required")
	case handler == nil:
		return nil, errors.New("analytics handler is required")
	case claims == nil:
		return nil, errors.New("idempotency manager is required")
	case logg == nil:
		return nil, errors.New("logger is required")
	}
	return &Service{
		subscription: subscription,
		handler:      handler,
		claims:       claims,
		logg:         logg,
	}, nil
}

type processResult struct {
	nack bool
}

// Run consumes until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	return s.subscription.Receive(ctx, func(msgCtx context.Context, msg *gcppubsub.Message) {
		if s.process(msgCtx, msg).nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

func (s *Service) process(ctx context.Context, msg *gcppubsub.Message) processResult {
	logCtx := s.logg.WithField(ctx, "message_id", msg.ID)

	envelope, err := parseEnvelope(msg)
	if err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "invalid analytics envelope")
		return processResult{}
	}
	logCtx = s.logg.WithFields(logCtx, map[string]any{
		"event_id":       envelope.EventID,
		"event_type":     envelope.EventType,
		"aggregate_type": envelope.AggregateType,
		"aggregate_id":   envelope.AggregateID,
		"occurred_at":    envelope.OccurredAt.Format(time.RFC3339Nano),
	})

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		s.logg.Warn(logCtx, "invalid event id")
		return processResult{}
	}

	claim, err := s.claims.Claim(logCtx, analyticsConsumerName, eventID)
	if err != nil {
		s.logg.Error(logCtx, "idempotency claim failed", err)
		return processResult{nack: true}
	}
	switch claim {
	case idempotency.ClaimDone:
		s.logg.Info(logCtx, "event already processed")
		return processResult{}
	case idempotency.ClaimInFlight:
		s.logg.Info(logCtx, "event in flight on another delivery")
		return processResult{nack: true}
	}

	err = s.handler.Handle(logCtx, *envelope)
	switch {
	case errors.Is(err, router.ErrUnsupportedEventType):
		s.logg.Info(logCtx, "event type not tracked by analytics")
	case err != nil:
		s.logg.Error(logCtx, "handler error", err)
		if relErr := s.claims.Release(logCtx, analyticsConsumerName, eventID); relErr != nil {
			s.logg.Warn(s.logg.WithField(logCtx, "error", relErr.Error()), "release claim failed")
		}
		return processResult{nack: true}
	default:
		s.logg.Info(logCtx, "analytics event handled")
	}
	if err := s.claims.Complete(logCtx, analyticsConsumerName, eventID); err != nil {
		s.logg.Warn(s.logg.WithField(logCtx, "error", err.Error()), "complete claim failed")
	}
	return processResult{}
}

// parseEnvelope merges the stored outbox envelope with the routing attributes
// the publisher sets on every message.
func parseEnvelope(msg *gcppubsub.Message) (*types.Envelope, error) {
	var stored outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &stored); err != nil {
		return nil, fmt.Errorf("decode payload envelope: %w", err)
	}
	attr := func(name string) string { return strings.TrimSpace(msg.Attributes[name]) }

	eventType, err := enums.ParseOutboxEventType(attr("event_type"))
	if err != nil {
		return nil, fmt.Errorf("event_type: %w", err)
	}
	aggregateType, err := enums.ParseOutboxAggregateType(attr("aggregate_type"))
	if err != nil {
		return nil, fmt.Errorf("aggregate_type: %w", err)
	}
	aggregateID := attr("aggregate_id")
	if aggregateID == "" {
		return nil, errors.New("aggregate_id missing")
	}

	eventID := strings.TrimSpace(stored.EventID)
	if eventID == "" {
		eventID = attr("event_id")
	}
	if eventID == "" {
		return nil, errors.New("event_id missing")
	}

	occurredAt := stored.OccurredAt
	if occurredAt.IsZero() {
		if parsed, err := time.Parse(time.RFC3339Nano, attr("created_at")); err == nil {
			occurredAt = parsed
		}
	}

	return &types.Envelope{
		EventID:       eventID,
		EventType:     eventType,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Version:       stored.Version,
		OccurredAt:    occurredAt.UTC(),
		Payload:       stored.Data,
	}, nil
}
