package profit

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
)

// Repository reads profit inputs and stores the breakdown.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindIntent(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	ListOffers(ctx context.Context, productIDs []uuid.UUID) ([]models.SupplierOffer, error)
	Upsert(ctx context.Context, breakdown *models.ProfitBreakdown) error
	FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.ProfitBreakdown, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a profit repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindIntent(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", paymentID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListOffers(ctx context.Context, productIDs []uuid.UUID) ([]models.SupplierOffer, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var offers []models.SupplierOffer
	if err := r.db.WithContext(ctx).
		Where("product_id IN ? AND is_active = ?", productIDs, true).
		Find(&offers).Error; err != nil {
		return nil, err
	}
	return offers, nil
}

// Upsert overwrites the breakdown for the payment.
func (r *repository) Upsert(ctx context.Context, breakdown *models.ProfitBreakdown) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "payment_id"}},
			UpdateAll: true,
		}).
		Create(breakdown).Error
}

func (r *repository) FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.ProfitBreakdown, error) {
	var breakdown models.ProfitBreakdown
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&breakdown).Error; err != nil {
		return nil, err
	}
	return &breakdown, nil
}
