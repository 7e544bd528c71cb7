package notifications

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// Repository exposes persistence helpers for notification logs.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListSupplierRecipients(ctx context.Context, orderID uuid.UUID) ([]Recipient, error)
	Exists(ctx context.Context, paymentID uuid.UUID, kind enums.NotificationKind, recipient string) (bool, error)
	Create(ctx context.Context, entry *models.NotificationLog) error
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.NotificationLog, error)
	SumCost(ctx context.Context, orderID uuid.UUID) (int64, error)
}

// Recipient is a supplier that owns a live purchase order on the order.
type Recipient struct {
	SupplierID      uuid.UUID
	PurchaseOrderID uuid.UUID
	Reference       string
	Email           string
	AmountMinor     int64
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a notifications repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repositoryImpl) ListSupplierRecipients(ctx context.Context, orderID uuid.UUID) ([]Recipient, error) {
	var rows []Recipient
	err := r.db.WithContext(ctx).
		Table("purchase_orders AS po").
		Select("po.supplier_id AS supplier_id, po.id AS purchase_order_id, po.supplier_order_ref AS reference, s.email AS email, po.supplier_amount_minor AS amount_minor").
		Joins("JOIN suppliers s ON s.id = po.supplier_id").
		Where("po.order_id = ? AND po.status <> ?", orderID, enums.PurchaseOrderStatusCanceled).
		Order("po.supplier_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) Exists(ctx context.Context, paymentID uuid.UUID, kind enums.NotificationKind, recipient string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.NotificationLog{}).
		Where("payment_id = ? AND kind = ? AND recipient = ?", paymentID, kind, recipient).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repositoryImpl) Create(ctx context.Context, entry *models.NotificationLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repositoryImpl) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.NotificationLog, error) {
	var rows []models.NotificationLog
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) SumCost(ctx context.Context, orderID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.NotificationLog{}).
		Select("COALESCE(SUM(cost_minor), 0)").
		Where("order_id = ?", orderID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
