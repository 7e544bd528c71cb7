package enums

import "fmt"

// OutboxAggregateType names the entity an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregatePaymentIntent OutboxAggregateType = "payment_intent"
	AggregateOrder         OutboxAggregateType = "order"
	AggregatePurchaseOrder OutboxAggregateType = "purchase_order"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePaymentIntent,
	AggregateOrder,
	AggregatePurchaseOrder,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a deferred task or fact written through the outbox.
type OutboxEventType string

const (
	EventPaymentPaid           OutboxEventType = "payment_paid"
	EventPaymentFailed         OutboxEventType = "payment_failed"
	EventPaymentLateSuccess    OutboxEventType = "payment_late_success"
	EventNotificationRequested OutboxEventType = "notification_requested"
	EventProfitComputed        OutboxEventType = "profit_computed"
	EventPayoutTransferSent    OutboxEventType = "payout_transfer_sent"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentPaid,
	EventPaymentFailed,
	EventPaymentLateSuccess,
	EventNotificationRequested,
	EventProfitComputed,
	EventPayoutTransferSent,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
