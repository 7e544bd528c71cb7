package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// PayoutTransfer is the record of one transfer instruction per (payment,
// supplier). Its presence keeps a retry from paying a supplier twice.
type PayoutTransfer struct {
	ID            uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID     uuid.UUID            `gorm:"column:payment_id;type:uuid;not null"`
	SupplierID    uuid.UUID            `gorm:"column:supplier_id;type:uuid;not null"`
	AmountMinor   int64                `gorm:"column:amount_minor;not null"`
	Reference     string               `gorm:"column:reference;not null"`
	RecipientCode *string              `gorm:"column:recipient_code"`
	TransferCode  *string              `gorm:"column:transfer_code"`
	Status        enums.TransferStatus `gorm:"column:status;type:transfer_status;not null"`
	Reason        *string              `gorm:"column:reason"`
	CreatedAt     time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}
