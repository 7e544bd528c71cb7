package finalization

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doncapon/yemisshop-sub004/internal/payments"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// Store is the persistence surface of the orchestrator. WithTx binds every
// read and write to the caller's transaction.
type Store interface {
	WithTx(tx *gorm.DB) Store
	FindIntent(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error)
	FindIntentForUpdate(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error)
	FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	CancelSiblings(ctx context.Context, orderID, keepID uuid.UUID, at time.Time) (int64, error)
	AdvanceOrder(ctx context.Context, orderID uuid.UUID, paidAt time.Time) (bool, error)
	RecordServiceFee(ctx context.Context, fee *models.OrderServiceFee) error
	HasEvent(ctx context.Context, paymentID uuid.UUID, eventType enums.FinalizationEventType) (bool, error)
	ListEvents(ctx context.Context, paymentID uuid.UUID) ([]models.FinalizationEvent, error)
	CreateEvent(ctx context.Context, event *models.FinalizationEvent) error
	ListPaidMissingEvents(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error)
}

// expectedEvents is how many distinct markers a fully finalized payment has.
// The two payout outcomes count once.
const expectedEvents = 6

type store struct {
	db *gorm.DB
}

// NewStore binds the orchestrator store to db.
func NewStore(db *gorm.DB) Store {
	return &store{db: db}
}

func (s *store) WithTx(tx *gorm.DB) Store {
	if tx == nil {
		return s
	}
	return &store{db: tx}
}

func (s *store) FindIntent(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := s.db.WithContext(ctx).Where("id = ?", paymentID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (s *store) FindIntentForUpdate(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", paymentID).
		First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (s *store) FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *store) CancelSiblings(ctx context.Context, orderID, keepID uuid.UUID, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("order_id = ? AND id <> ? AND status = ?", orderID, keepID, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":         enums.PaymentStatusCanceled,
			"failure_reason": payments.ReasonSuperseded,
			"updated_at":     at,
		})
	return res.RowsAffected, res.Error
}

// AdvanceOrder moves a PENDING order to AWAITING_FULFILLMENT. Orders in any
// other status are left alone and false is returned.
func (s *store) AdvanceOrder(ctx context.Context, orderID uuid.UUID, paidAt time.Time) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, enums.OrderStatusPending).
		Updates(map[string]any{
			"status":     enums.OrderStatusAwaitingFulfillment,
			"paid_at":    paidAt,
			"updated_at": paidAt,
		})
	return res.RowsAffected > 0, res.Error
}

// RecordServiceFee inserts the slice unless the payment already has one.
func (s *store) RecordServiceFee(ctx context.Context, fee *models.OrderServiceFee) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_id"}}, DoNothing: true}).
		Create(fee).Error
}

func (s *store) HasEvent(ctx context.Context, paymentID uuid.UUID, eventType enums.FinalizationEventType) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&models.FinalizationEvent{}).
		Where("payment_intent_id = ? AND type = ?", paymentID, eventType).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *store) ListEvents(ctx context.Context, paymentID uuid.UUID) ([]models.FinalizationEvent, error) {
	var events []models.FinalizationEvent
	if err := s.db.WithContext(ctx).
		Where("payment_intent_id = ?", paymentID).
		Order("created_at ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *store) CreateEvent(ctx context.Context, event *models.FinalizationEvent) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// ListPaidMissingEvents returns PAID intents paid since the cutoff that still
// miss at least one finalization marker, oldest first.
func (s *store) ListPaidMissingEvents(ctx context.Context, since time.Time, limit int) ([]uuid.UUID, error) {
	markers := s.db.
		Model(&models.FinalizationEvent{}).
		Select("COUNT(DISTINCT CASE WHEN type IN (?, ?) THEN 'PAYOUTS' ELSE type END)",
			enums.FinalizationPayoutsDispatched, enums.FinalizationPayoutsSkipped).
		Where("payment_intent_id = payment_intents.id")

	var ids []uuid.UUID
	query := s.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("status = ? AND paid_at >= ?", enums.PaymentStatusPaid, since).
		Where("(?) < ?", markers, expectedEvents).
		Order("paid_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}
