package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// FinalizationEvent is an append-only marker that one effect of a paid intent
// ran. (payment_intent_id, type) is unique.
type FinalizationEvent struct {
	ID              uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentIntentID uuid.UUID                   `gorm:"column:payment_intent_id;type:uuid;not null"`
	Type            enums.FinalizationEventType `gorm:"column:type;type:finalization_event_type;not null"`
	Metadata        datatypes.JSON              `gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
