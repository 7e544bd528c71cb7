package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// PaymentPaidEvent is emitted in the transaction that flips an intent to
// PAID. Consumers run finalization for the payment.
type PaymentPaidEvent struct {
	PaymentID   uuid.UUID `json:"payment_id"`
	OrderID     uuid.UUID `json:"order_id"`
	Reference   string    `json:"reference"`
	AmountMinor int64     `json:"amount_minor"`
	Source      string    `json:"source"`
	PaidAt      time.Time `json:"paid_at"`
}

// PaymentFailedEvent reports a gateway-declared failure.
type PaymentFailedEvent struct {
	PaymentID uuid.UUID `json:"payment_id"`
	OrderID   uuid.UUID `json:"order_id"`
	Reference string    `json:"reference"`
	Reason    string    `json:"reason,omitempty"`
}

// PaymentLateSuccessEvent flags money collected on an intent that had already
// been canceled or failed. It needs manual reconciliation.
type PaymentLateSuccessEvent struct {
	PaymentID   uuid.UUID           `json:"payment_id"`
	OrderID     uuid.UUID           `json:"order_id"`
	Reference   string              `json:"reference"`
	Status      enums.PaymentStatus `json:"status"`
	AmountMinor int64               `json:"amount_minor"`
}

// NotificationRequestedEvent asks the messaging collaborator to send one
// message. Delivery mechanics live outside this service.
type NotificationRequestedEvent struct {
	Kind      enums.NotificationKind `json:"kind"`
	OrderID   uuid.UUID              `json:"order_id"`
	PaymentID uuid.UUID              `json:"payment_id"`
	Recipient string                 `json:"recipient"`
	Data      map[string]any         `json:"data,omitempty"`
}

// ProfitComputedEvent carries a profit snapshot to analytics.
type ProfitComputedEvent struct {
	PaymentID           uuid.UUID        `json:"payment_id"`
	OrderID             uuid.UUID        `json:"order_id"`
	AmountPaidMinor     int64            `json:"amount_paid_minor"`
	CogsMinor           int64            `json:"cogs_minor"`
	GatewayFeeMinor     int64            `json:"gateway_fee_minor"`
	GatewayFeeEstimated bool             `json:"gateway_fee_estimated"`
	CommsCostMinor      int64            `json:"comms_cost_minor"`
	BaseFeeMinor        int64            `json:"base_fee_minor"`
	ProfitMinor         int64            `json:"profit_minor"`
	Mode                enums.ProfitMode `json:"mode"`
	CogsFallbackUsed    bool             `json:"cogs_fallback_used"`
	ComputedAt          time.Time        `json:"computed_at"`
}

// PayoutTransferSentEvent records a transfer accepted by the gateway.
type PayoutTransferSentEvent struct {
	PaymentID    uuid.UUID `json:"payment_id"`
	SupplierID   uuid.UUID `json:"supplier_id"`
	AmountMinor  int64     `json:"amount_minor"`
	Reference    string    `json:"reference"`
	TransferCode string    `json:"transfer_code,omitempty"`
}
