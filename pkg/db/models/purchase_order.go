package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// PurchaseOrder records what one supplier is owed for its share of an order.
// There is exactly one row per (order_id, supplier_id) and SupplierOrderRef
// never changes once minted.
type PurchaseOrder struct {
	ID                  uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID             uuid.UUID                 `gorm:"column:order_id;type:uuid;not null"`
	SupplierID          uuid.UUID                 `gorm:"column:supplier_id;type:uuid;not null"`
	SupplierOrderRef    string                    `gorm:"column:supplier_order_ref;not null"`
	SubtotalMinor       int64                     `gorm:"column:subtotal_minor;not null"`
	SupplierAmountMinor int64                     `gorm:"column:supplier_amount_minor;not null"`
	PlatformFeeMinor    int64                     `gorm:"column:platform_fee_minor;not null"`
	Status              enums.PurchaseOrderStatus `gorm:"column:status;type:purchase_order_status;not null;default:'created'"`
	FundedAt            *time.Time                `gorm:"column:funded_at"`
	PaidOutAt           *time.Time                `gorm:"column:paid_out_at"`
	CreatedAt           time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

// PurchaseOrderRefLog remembers every supplier order reference minted for an
// (order, supplier) pair so a recreated purchase order reuses it.
type PurchaseOrderRefLog struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID          uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	SupplierID       uuid.UUID `gorm:"column:supplier_id;type:uuid;not null"`
	SupplierOrderRef string    `gorm:"column:supplier_order_ref;not null"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime"`
}
