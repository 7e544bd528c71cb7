package payments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// Repository persists payment intents and reads the orders they settle.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindByReference(ctx context.Context, reference string) (*models.PaymentIntent, error)
	FindByReferenceForUpdate(ctx context.Context, reference string) (*models.PaymentIntent, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentIntent, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	Create(ctx context.Context, intent *models.PaymentIntent) error
	Update(ctx context.Context, intent *models.PaymentIntent) error
	CancelPending(ctx context.Context, orderID uuid.UUID, exceptID uuid.UUID, reason string) (int64, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error)
	CancelExpired(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	AttachCheckout(ctx context.Context, id uuid.UUID, authorizationURL string, splitPlan []byte, splitApplied bool) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a payment intent repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindOrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindByReferenceForUpdate(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference = ?", reference).
		First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("reference = ?", reference).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) Create(ctx context.Context, intent *models.PaymentIntent) error {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(intent).Error
}

func (r *repository) Update(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil || intent.ID == uuid.Nil {
		return errors.New("payment intent id required")
	}
	return r.db.WithContext(ctx).Save(intent).Error
}

func (r *repository) CancelPending(ctx context.Context, orderID uuid.UUID, exceptID uuid.UUID, reason string) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusPending)
	if exceptID != uuid.Nil {
		query = query.Where("id <> ?", exceptID)
	}
	res := query.Updates(map[string]any{
		"status":         enums.PaymentStatusCanceled,
		"failure_reason": reason,
		"updated_at":     time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}

func (r *repository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	query := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", enums.PaymentStatusPending, now).
		Order("expires_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) CancelExpired(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id IN ? AND status = ?", ids, enums.PaymentStatusPending).
		Updates(map[string]any{
			"status":         enums.PaymentStatusCanceled,
			"failure_reason": ReasonExpired,
			"updated_at":     now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) AttachCheckout(ctx context.Context, id uuid.UUID, authorizationURL string, splitPlan []byte, splitApplied bool) error {
	updates := map[string]any{
		"authorization_url": authorizationURL,
		"split_applied":     splitApplied,
		"updated_at":        time.Now().UTC(),
	}
	if len(splitPlan) > 0 {
		updates["split_plan"] = datatypes.JSON(splitPlan)
	}
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND status = ?", id, enums.PaymentStatusPending).
		Updates(updates).Error
}
