package models

import (
	"time"

	"github.com/google/uuid"
)

// Supplier is the payout-relevant projection of a marketplace supplier.
type Supplier struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name           string    `gorm:"column:name;not null"`
	Email          string    `gorm:"column:email;not null"`
	BankCode       *string   `gorm:"column:bank_code"`
	AccountNumber  *string   `gorm:"column:account_number"`
	AccountName    *string   `gorm:"column:account_name"`
	SubaccountCode *string   `gorm:"column:subaccount_code"`
	RecipientCode  *string   `gorm:"column:recipient_code"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// SupplierOffer is a supplier's price for a product (and optionally a
// variant). Catalog owns these rows; settlement only reads them.
type SupplierOffer struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SupplierID uuid.UUID  `gorm:"column:supplier_id;type:uuid;not null"`
	ProductID  uuid.UUID  `gorm:"column:product_id;type:uuid;not null"`
	VariantID  *uuid.UUID `gorm:"column:variant_id;type:uuid"`
	PriceMinor int64      `gorm:"column:price_minor;not null"`
	IsActive   bool       `gorm:"column:is_active;not null;default:true"`
	InStock    bool       `gorm:"column:in_stock;not null;default:true"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}
