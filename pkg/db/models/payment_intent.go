package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// PaymentIntent is one attempt to collect money for an order. The row is the
// single source of truth for whether the order was paid.
type PaymentIntent struct {
	ID                uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID           uuid.UUID            `gorm:"column:order_id;type:uuid;not null"`
	Reference         string               `gorm:"column:reference;not null"`
	AmountMinor       int64                `gorm:"column:amount_minor;not null"`
	FeeMinor          *int64               `gorm:"column:fee_minor"`
	Status            enums.PaymentStatus  `gorm:"column:status;type:payment_status;not null;default:'pending'"`
	Channel           enums.PaymentChannel `gorm:"column:channel;type:payment_channel;not null"`
	AuthorizationURL  *string              `gorm:"column:authorization_url"`
	SplitPlan         datatypes.JSON       `gorm:"column:split_plan;type:jsonb"`
	SplitApplied      bool                 `gorm:"column:split_applied;not null;default:false"`
	SupplierBreakdown datatypes.JSON       `gorm:"column:supplier_breakdown;type:jsonb"`
	ProviderPayload   datatypes.JSON       `gorm:"column:provider_payload;type:jsonb"`
	FailureReason     *string              `gorm:"column:failure_reason"`
	ExpiresAt         time.Time            `gorm:"column:expires_at;not null"`
	PaidAt            *time.Time           `gorm:"column:paid_at"`
	CreatedAt         time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
