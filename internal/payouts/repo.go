package payouts

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// Repository reads payout inputs and records transfer attempts.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindIntent(ctx context.Context, paymentID uuid.UUID) (*models.PaymentIntent, error)
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	ListSuppliers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Supplier, error)
	SaveRecipientCode(ctx context.Context, supplierID uuid.UUID, code string) error
	ListAllocations(ctx context.Context, paymentID uuid.UUID) ([]models.SupplierPaymentAllocation, error)
	FindTransfer(ctx context.Context, paymentID, supplierID uuid.UUID) (*models.PayoutTransfer, error)
	CreateTransfer(ctx context.Context, transfer *models.PayoutTransfer) error
	UpdateTransfer(ctx context.Context, transfer *models.PayoutTransfer) error
	MarkSupplierPaid(ctx context.Context, paymentID, supplierID uuid.UUID, at time.Time) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a payout repository to db.
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

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error) {
	var items []models.OrderItem
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC, id ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListSuppliers(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]models.Supplier, error) {
	out := make(map[uuid.UUID]models.Supplier, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var suppliers []models.Supplier
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&suppliers).Error; err != nil {
		return nil, err
	}
	for _, supplier := range suppliers {
		out[supplier.ID] = supplier
	}
	return out, nil
}

func (r *repository) SaveRecipientCode(ctx context.Context, supplierID uuid.UUID, code string) error {
	return r.db.WithContext(ctx).
		Model(&models.Supplier{}).
		Where("id = ?", supplierID).
		Updates(map[string]any{
			"recipient_code": code,
			"updated_at":     time.Now().UTC(),
		}).Error
}

func (r *repository) ListAllocations(ctx context.Context, paymentID uuid.UUID) ([]models.SupplierPaymentAllocation, error) {
	var allocations []models.SupplierPaymentAllocation
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("supplier_id ASC").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *repository) FindTransfer(ctx context.Context, paymentID, supplierID uuid.UUID) (*models.PayoutTransfer, error) {
	var transfer models.PayoutTransfer
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND supplier_id = ?", paymentID, supplierID).
		First(&transfer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (r *repository) CreateTransfer(ctx context.Context, transfer *models.PayoutTransfer) error {
	if transfer.ID == uuid.Nil {
		transfer.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(transfer).Error
}

func (r *repository) UpdateTransfer(ctx context.Context, transfer *models.PayoutTransfer) error {
	return r.db.WithContext(ctx).Save(transfer).Error
}

// MarkSupplierPaid releases the supplier's held allocations for the payment
// and marks the matching purchase orders paid out.
func (r *repository) MarkSupplierPaid(ctx context.Context, paymentID, supplierID uuid.UUID, at time.Time) error {
	var poIDs []uuid.UUID
	if err := r.db.WithContext(ctx).
		Model(&models.SupplierPaymentAllocation{}).
		Where("payment_id = ? AND supplier_id = ? AND status = ?", paymentID, supplierID, enums.AllocationStatusHeld).
		Pluck("purchase_order_id", &poIDs).Error; err != nil {
		return err
	}
	if len(poIDs) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.SupplierPaymentAllocation{}).
		Where("payment_id = ? AND supplier_id = ? AND status = ?", paymentID, supplierID, enums.AllocationStatusHeld).
		Updates(map[string]any{
			"status":     enums.AllocationStatusPaid,
			"paid_at":    at,
			"updated_at": at,
		}).Error; err != nil {
		return err
	}
	return r.db.WithContext(ctx).
		Model(&models.PurchaseOrder{}).
		Where("id IN ? AND status IN ?", poIDs, []enums.PurchaseOrderStatus{
			enums.PurchaseOrderStatusCreated,
			enums.PurchaseOrderStatusFunded,
		}).
		Updates(map[string]any{
			"status":      enums.PurchaseOrderStatusPaidOut,
			"paid_out_at": at,
			"updated_at":  at,
		}).Error
}
