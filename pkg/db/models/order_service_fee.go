package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderServiceFee is the service-fee slice recognised for one payment.
type OrderServiceFee struct {
	ID          uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID   uuid.UUID `gorm:"column:payment_id;type:uuid;not null"`
	OrderID     uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	AmountMinor int64     `gorm:"column:amount_minor;not null"`
	Ratio       string    `gorm:"column:ratio;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}
