package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// ProfitBreakdown is the latest realized-margin snapshot for a payment.
type ProfitBreakdown struct {
	PaymentID           uuid.UUID        `gorm:"column:payment_id;type:uuid;primaryKey"`
	OrderID             uuid.UUID        `gorm:"column:order_id;type:uuid;not null"`
	AmountPaidMinor     int64            `gorm:"column:amount_paid_minor;not null"`
	CogsMinor           int64            `gorm:"column:cogs_minor;not null"`
	GatewayFeeMinor     int64            `gorm:"column:gateway_fee_minor;not null"`
	GatewayFeeEstimated bool             `gorm:"column:gateway_fee_estimated;not null"`
	CommsCostMinor      int64            `gorm:"column:comms_cost_minor;not null"`
	BaseFeeMinor        int64            `gorm:"column:base_fee_minor;not null"`
	ProfitMinor         int64            `gorm:"column:profit_minor;not null"`
	Mode                enums.ProfitMode `gorm:"column:mode;type:profit_mode;not null"`
	CogsFallbackUsed    bool             `gorm:"column:cogs_fallback_used;not null"`
	CogsLines           datatypes.JSON   `gorm:"column:cogs_lines;type:jsonb"`
	ComputedAt          time.Time        `gorm:"column:computed_at;not null"`
}
