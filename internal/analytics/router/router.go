package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/types"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/registry"
)

var ErrUnsupportedEventType = errors.New("unsupported analytics event type")

// Writer receives the warehouse rows built from settlement events.
type Writer interface {
	InsertProfit(ctx context.Context, row types.ProfitRow) error
	InsertPaymentEvent(ctx context.Context, row types.PaymentEventRow) error
}

// Handler gets the envelope and its decoded payload.
type Handler interface {
	Handle(ctx context.Context, envelope types.Envelope, payload any) error
}

// Router decodes each envelope against its schema version and hands it to
// the handler registered for its event type.
type Router struct {
	decoders *registry.DecoderRegistry
	handlers map[enums.OutboxEventType]Handler
}

// NewRouter wires the profit and payment timeline handlers. overrides replace
// the handler of an already routed event type and are ignored otherwise.
func NewRouter(writer Writer, logg *logger.Logger, overrides map[enums.OutboxEventType]Handler) (*Router, error) {
	if writer == nil {
		return nil, errors.New("writer is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}

	decoders := registry.NewDecoderRegistry()
	timeline := &paymentEventHandler{writer: writer, logg: logg}
	err := errors.Join(
		registry.RegisterJSON[*payloads.ProfitComputedEvent](decoders, enums.EventProfitComputed, 1, nil),
		registry.RegisterJSON[*payloads.PaymentPaidEvent](decoders, enums.EventPaymentPaid, 1, nil),
		registry.RegisterJSON[*payloads.PaymentFailedEvent](decoders, enums.EventPaymentFailed, 1, nil),
		registry.RegisterJSON[*payloads.PaymentLateSuccessEvent](decoders, enums.EventPaymentLateSuccess, 1, nil),
		registry.RegisterJSON[*payloads.PayoutTransferSentEvent](decoders, enums.EventPayoutTransferSent, 1, nil),
	)
	if err != nil {
		return nil, err
	}
	handlers := map[enums.OutboxEventType]Handler{
		enums.EventProfitComputed:     &profitComputedHandler{writer: writer, logg: logg},
		enums.EventPaymentPaid:        timeline,
		enums.EventPaymentFailed:      timeline,
		enums.EventPaymentLateSuccess: timeline,
		enums.EventPayoutTransferSent: timeline,
	}
	for event, custom := range overrides {
		if _, routed := handlers[event]; routed && custom != nil {
			handlers[event] = custom
		}
	}
	return &Router{decoders: decoders, handlers: handlers}, nil
}

func (r *Router) Handle(ctx context.Context, envelope types.Envelope) error {
	handler, ok := r.handlers[envelope.EventType]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedEventType, envelope.EventType)
	}
	if len(envelope.Payload) == 0 {
		return fmt.Errorf("empty payload for %s", envelope.EventType)
	}
	version := envelope.Version
	if version == 0 {
		version = 1
	}
	payload, err := r.decoders.Decode(envelope.EventType, version, envelope.Payload)
	if err != nil {
		return err
	}
	return handler.Handle(ctx, envelope, payload)
}
