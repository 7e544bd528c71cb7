package receipts

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
)

// Repository persists receipts and reads what goes on them.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, error)
	NumberExists(ctx context.Context, number string) (bool, error)
	FindIntent(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	FindServiceFee(ctx context.Context, paymentID uuid.UUID) (*models.OrderServiceFee, error)
	Create(ctx context.Context, receipt *models.Receipt) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a receipt repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// FindByPayment returns nil, nil when no receipt exists yet.
func (r *repository) FindByPayment(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, error) {
	var receipt models.Receipt
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &receipt, nil
}

func (r *repository) NumberExists(ctx context.Context, number string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Receipt{}).Where("number = ?", number).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) FindIntent(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := r.db.WithContext(ctx).Where("id = ?", paymentID).First(&intent).Error; err != nil {
		return nil, err
	}
	return &intent, nil
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// FindServiceFee returns nil, nil when the payment recorded no service fee.
func (r *repository) FindServiceFee(ctx context.Context, paymentID uuid.UUID) (*models.OrderServiceFee, error) {
	var fee models.OrderServiceFee
	err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&fee).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &fee, nil
}

func (r *repository) Create(ctx context.Context, receipt *models.Receipt) error {
	return r.db.WithContext(ctx).Create(receipt).Error
}
