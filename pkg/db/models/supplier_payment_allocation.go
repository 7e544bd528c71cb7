package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// SupplierPaymentAllocation holds a supplier's share of one payment until it
// is paid out. Unique on (payment_id, purchase_order_id).
type SupplierPaymentAllocation struct {
	ID              uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID       uuid.UUID              `gorm:"column:payment_id;type:uuid;not null"`
	PurchaseOrderID uuid.UUID              `gorm:"column:purchase_order_id;type:uuid;not null"`
	SupplierID      uuid.UUID              `gorm:"column:supplier_id;type:uuid;not null"`
	AmountMinor     int64                  `gorm:"column:amount_minor;not null"`
	Status          enums.AllocationStatus `gorm:"column:status;type:allocation_status;not null;default:'held'"`
	PaidAt          *time.Time             `gorm:"column:paid_at"`
	Note            *string                `gorm:"column:note"`
	CreatedAt       time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
