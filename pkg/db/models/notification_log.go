package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// NotificationLog records a message requested for a payment. Unique on
// (payment_id, kind, recipient); CostMinor feeds the profit comms cost.
type NotificationLog struct {
	ID        uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID   uuid.UUID              `gorm:"column:order_id;type:uuid;not null"`
	PaymentID uuid.UUID              `gorm:"column:payment_id;type:uuid;not null"`
	Kind      enums.NotificationKind `gorm:"column:kind;type:notification_kind;not null"`
	Recipient string                 `gorm:"column:recipient;not null"`
	Channel   string                 `gorm:"column:channel;not null;default:'email'"`
	CostMinor int64                  `gorm:"column:cost_minor;not null;default:0"`
	CreatedAt time.Time              `gorm:"column:created_at;autoCreateTime"`
}
