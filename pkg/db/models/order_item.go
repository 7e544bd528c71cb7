package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderItem is one line of an order. ChosenSupplierID is the supplier picked
// for fulfillment; unassigned lines are excluded from purchase orders.
type OrderItem struct {
	ID                           uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID                      uuid.UUID  `gorm:"column:order_id;type:uuid;not null"`
	ProductID                    uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID                    *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	Title                        string     `gorm:"column:title;not null"`
	UnitPriceMinor               int64      `gorm:"column:unit_price_minor;not null"`
	Quantity                     int        `gorm:"column:quantity;not null"`
	LineTotalMinor               *int64     `gorm:"column:line_total_minor"`
	ChosenSupplierID             *uuid.UUID `gorm:"column:chosen_supplier_id;type:uuid"`
	ChosenSupplierUnitPriceMinor *int64     `gorm:"column:chosen_supplier_unit_price_minor"`
	PurchaseOrderID              *uuid.UUID `gorm:"column:purchase_order_id;type:uuid"`
	CreatedAt                    time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                    time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// CustomerTotal is the amount the customer pays for the line.
func (i OrderItem) CustomerTotal() int64 {
	if i.LineTotalMinor != nil {
		return *i.LineTotalMinor
	}
	return i.UnitPriceMinor * int64(i.Quantity)
}
