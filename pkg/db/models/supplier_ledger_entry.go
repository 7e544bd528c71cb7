package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// SupplierLedgerEntry is an immutable credit or debit against a supplier.
// (supplier_id, reference_type, reference_id, type) is unique.
type SupplierLedgerEntry struct {
	ID            uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SupplierID    uuid.UUID             `gorm:"column:supplier_id;type:uuid;not null"`
	Type          enums.LedgerEntryType `gorm:"column:type;type:ledger_entry_type;not null"`
	AmountMinor   int64                 `gorm:"column:amount_minor;not null"`
	ReferenceType string                `gorm:"column:reference_type;not null"`
	ReferenceID   string                `gorm:"column:reference_id;not null"`
	Note          *string               `gorm:"column:note"`
	Metadata      datatypes.JSON        `gorm:"column:metadata;type:jsonb"`
	CreatedAt     time.Time             `gorm:"column:created_at;autoCreateTime"`
}
