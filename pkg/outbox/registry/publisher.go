package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

// EventDescriptor says where an event type is published. The first topic is
// the primary consumer; the rest receive copies (analytics).
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topics        []string
}

// ResolvedEvent is an outbox row with its envelope and typed payload decoded.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// EventRegistry validates outbox rows before they leave the database.
type EventRegistry struct {
	entries  map[enums.OutboxEventType]EventDescriptor
	decoders *DecoderRegistry
}

// NonRetryableError marks a row that will never publish, however often it is
// retried. The dispatcher dead-letters it at once.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// NewEventRegistry routes settlement facts to the payments topic with a copy
// to analytics, profit snapshots to analytics only and notification requests
// to the messaging topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	switch {
	case cfg.PaymentsTopic == "":
		return nil, errors.New("payments topic is required")
	case cfg.NotificationTopic == "":
		return nil, errors.New("notification topic is required")
	case cfg.AnalyticsTopic == "":
		return nil, errors.New("analytics topic is required")
	}

	reg := &EventRegistry{
		entries:  map[enums.OutboxEventType]EventDescriptor{},
		decoders: NewDecoderRegistry(),
	}
	settlementTopics := []string{cfg.PaymentsTopic, cfg.AnalyticsTopic}
	err := errors.Join(
		register[payloads.PaymentPaidEvent](reg, enums.EventPaymentPaid, enums.AggregatePaymentIntent, settlementTopics),
		register[payloads.PaymentFailedEvent](reg, enums.EventPaymentFailed, enums.AggregatePaymentIntent, settlementTopics),
		register[payloads.PaymentLateSuccessEvent](reg, enums.EventPaymentLateSuccess, enums.AggregatePaymentIntent, settlementTopics),
		register[payloads.PayoutTransferSentEvent](reg, enums.EventPayoutTransferSent, enums.AggregatePaymentIntent, settlementTopics),
		register[payloads.ProfitComputedEvent](reg, enums.EventProfitComputed, enums.AggregatePaymentIntent, []string{cfg.AnalyticsTopic}),
		register[payloads.NotificationRequestedEvent](reg, enums.EventNotificationRequested, enums.AggregateOrder, []string{cfg.NotificationTopic}),
	)
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// register adds the v1 schema of an event. Payloads decode to *T.
func register[T any](reg *EventRegistry, event enums.OutboxEventType, aggregate enums.OutboxAggregateType, topics []string) error {
	if err := RegisterJSON[*T](reg.decoders, event, 1, nil); err != nil {
		return err
	}
	reg.entries[event] = EventDescriptor{EventType: event, AggregateType: aggregate, Topics: topics}
	return nil
}

// Topics lists every distinct topic, sorted.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	var topics []string
	for _, desc := range r.entries {
		for _, topic := range desc.Topics {
			if _, ok := seen[topic]; ok {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}
	}
	sort.Strings(topics)
	return topics
}

// Resolve validates the row and decodes its payload against the envelope's
// schema version. Every failure is non-retryable.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(errors.New("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	data := bytes.TrimSpace(envelope.Data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload, err := r.decoders.Decode(event.EventType, envelope.Version, envelope.Data)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
