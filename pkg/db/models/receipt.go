package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Receipt is issued at most once per payment.
type Receipt struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentID uuid.UUID      `gorm:"column:payment_id;type:uuid;not null"`
	Number    string         `gorm:"column:number;not null"`
	Snapshot  datatypes.JSON `gorm:"column:snapshot;type:jsonb;not null"`
	IssuedAt  time.Time      `gorm:"column:issued_at;not null"`
}
