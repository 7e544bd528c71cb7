package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// Order is the customer order a payment settles. Amounts are minor units.
type Order struct {
	ID                   uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID           uuid.UUID         `gorm:"column:customer_id;type:uuid;not null"`
	CustomerEmail        string            `gorm:"column:customer_email;not null"`
	Currency             string            `gorm:"column:currency;not null;default:'NGN'"`
	TotalMinor           int64             `gorm:"column:total_minor;not null"`
	ServiceFeeTotalMinor int64             `gorm:"column:service_fee_total_minor;not null;default:0"`
	Status               enums.OrderStatus `gorm:"column:status;type:order_status;not null;default:'pending'"`
	PaidAt               *time.Time        `gorm:"column:paid_at"`
	CreatedAt            time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}
