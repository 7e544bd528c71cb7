package finalization

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/idempotency"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/registry"
)

const paymentPaidConsumer = "payment-finalizer"

type finalizer interface {
	Finalize(ctx context.Context, paymentID uuid.UUID) (*Result, error)
}

type eventClaimer interface {
	Claim(ctx context.Context, consumer string, eventID uuid.UUID) (idempotency.Claim, error)
	Complete(ctx context.Context, consumer string, eventID uuid.UUID) error
	Release(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer runs finalization for every payment_paid event published from the
// outbox. A failed core is nacked so Pub/Sub redelivers it.
type Consumer struct {
	finalizer    finalizer
	subscription *pubsub.Subscriber
	idempotency  eventClaimer
	decoders     *registry.DecoderRegistry
	logg         *logger.Logger
}

// NewConsumer builds the payment_paid consumer.
func NewConsumer(svc finalizer, subscription *pubsub.Subscriber, manager eventClaimer, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("finalization service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("payments subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	decoders, err := NewDecoderRegistry()
	if err != nil {
		return nil, fmt.Errorf("payment decoders: %w", err)
	}
	return &Consumer{
		finalizer:    svc,
		subscription: subscription,
		idempotency:  manager,
		decoders:     decoders,
		logg:         logg,
	}, nil
}

// NewDecoderRegistry registers the payloads this consumer understands.
func NewDecoderRegistry() (*registry.DecoderRegistry, error) {
	decoders := registry.NewDecoderRegistry()
	err := registry.RegisterJSON(decoders, enums.EventPaymentPaid, 1, func(event payloads.PaymentPaidEvent) error {
		if event.PaymentID == uuid.Nil {
			return fmt.Errorf("payment id missing")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return decoders, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg.ID, msg.Attributes, msg.Data)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, messageID string, attributes map[string]string, data []byte) processResult {
	eventType := attributes["event_type"]
	fields := map[string]any{
		"message_id": messageID,
		"event_type": eventType,
	}
	logCtx := c.logg.WithFields(ctx, fields)

	if eventType != string(enums.EventPaymentPaid) {
		c.logg.Info(logCtx, "skipping non-payment event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}

	eventID, err := uuid.Parse(envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "invalid event id", err)
		return processResult{ack: true}
	}

	decoded, err := c.decoders.Decode(enums.EventPaymentPaid, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "failed to parse payload", err)
		return processResult{ack: true}
	}
	payload := decoded.(payloads.PaymentPaidEvent)
	logCtx = c.logg.WithPaymentID(logCtx, payload.PaymentID.String())
	logCtx = c.logg.WithReference(logCtx, payload.Reference)

	claim, err := c.idempotency.Claim(ctx, paymentPaidConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency claim failed", err)
		return processResult{nack: true}
	}
	switch claim {
	case idempotency.ClaimDone:
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	case idempotency.ClaimInFlight:
		c.logg.Info(logCtx, "event in flight on another delivery")
		return processResult{nack: true}
	}

	result, err := c.finalizer.Finalize(logCtx, payload.PaymentID)
	if err != nil && pkgerrors.Retryable(err) {
		c.logg.Error(logCtx, "finalization failed", err)
		if relErr := c.idempotency.Release(ctx, paymentPaidConsumer, eventID); relErr != nil {
			c.logg.Warn(c.logg.WithField(logCtx, "error", relErr.Error()), "release claim failed")
		}
		return processResult{nack: true}
	}
	if err != nil {
		// redelivery cannot change a missing or terminal intent
		c.logg.Error(logCtx, "finalization rejected event", err)
	} else if result != nil && result.Err != nil {
		// the sweep retries unrecorded effects
		c.logg.Warn(c.logg.WithField(logCtx, "failed_effects", result.Failed()), "finalization effects pending retry")
	}
	if err := c.idempotency.Complete(ctx, paymentPaidConsumer, eventID); err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "complete claim failed")
	}
	return processResult{ack: true}
}
