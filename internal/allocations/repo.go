package allocations

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

// Repository persists supplier payment allocations and the purchase order
// and intent columns they drive.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindByPaymentAndPurchaseOrder(ctx context.Context, paymentID, purchaseOrderID uuid.UUID) (*models.SupplierPaymentAllocation, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.SupplierPaymentAllocation, error)
	ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.SupplierPaymentAllocation, error)
	ListByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) ([]models.SupplierPaymentAllocation, error)
	Create(ctx context.Context, allocation *models.SupplierPaymentAllocation) error
	MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, note *string) error
	MarkPurchaseOrderFunded(ctx context.Context, purchaseOrderID uuid.UUID, at time.Time) error
	MarkPurchaseOrderPaidOut(ctx context.Context, purchaseOrderID uuid.UUID, at time.Time) error
	SaveBreakdown(ctx context.Context, paymentID uuid.UUID, breakdown []byte) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds an allocation repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindByPaymentAndPurchaseOrder(ctx context.Context, paymentID, purchaseOrderID uuid.UUID) (*models.SupplierPaymentAllocation, error) {
	var allocation models.SupplierPaymentAllocation
	err := r.db.WithContext(ctx).
		Where("payment_id = ? AND purchase_order_id = ?", paymentID, purchaseOrderID).
		First(&allocation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.SupplierPaymentAllocation, error) {
	var allocation models.SupplierPaymentAllocation
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&allocation).Error; err != nil {
		return nil, err
	}
	return &allocation, nil
}

func (r *repository) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.SupplierPaymentAllocation, error) {
	var allocations []models.SupplierPaymentAllocation
	if err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("supplier_id ASC").
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *repository) ListByPurchaseOrder(ctx context.Context, purchaseOrderID uuid.UUID) ([]models.SupplierPaymentAllocation, error) {
	var allocations []models.SupplierPaymentAllocation
	if err := r.db.WithContext(ctx).
		Where("purchase_order_id = ?", purchaseOrderID).
		Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

func (r *repository) Create(ctx context.Context, allocation *models.SupplierPaymentAllocation) error {
	if allocation.ID == uuid.Nil {
		allocation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(allocation).Error
}

func (r *repository) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, note *string) error {
	updates := map[string]any{
		"status":     enums.AllocationStatusPaid,
		"paid_at":    paidAt,
		"updated_at": time.Now().UTC(),
	}
	if note != nil {
		updates["note"] = *note
	}
	return r.db.WithContext(ctx).
		Model(&models.SupplierPaymentAllocation{}).
		Where("id = ? AND status = ?", id, enums.AllocationStatusHeld).
		Updates(updates).Error
}

func (r *repository) MarkPurchaseOrderFunded(ctx context.Context, purchaseOrderID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PurchaseOrder{}).
		Where("id = ? AND status = ?", purchaseOrderID, enums.PurchaseOrderStatusCreated).
		Updates(map[string]any{
			"status":     enums.PurchaseOrderStatusFunded,
			"funded_at":  at,
			"updated_at": time.Now().UTC(),
		}).Error
}

func (r *repository) MarkPurchaseOrderPaidOut(ctx context.Context, purchaseOrderID uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PurchaseOrder{}).
		Where("id = ? AND status IN ?", purchaseOrderID, []enums.PurchaseOrderStatus{
			enums.PurchaseOrderStatusCreated,
			enums.PurchaseOrderStatusFunded,
		}).
		Updates(map[string]any{
			"status":      enums.PurchaseOrderStatusPaidOut,
			"paid_out_at": at,
			"updated_at":  time.Now().UTC(),
		}).Error
}

func (r *repository) SaveBreakdown(ctx context.Context, paymentID uuid.UUID, breakdown []byte) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ?", paymentID).
		Updates(map[string]any{
			"supplier_breakdown": datatypes.JSON(breakdown),
			"updated_at":         time.Now().UTC(),
		}).Error
}
