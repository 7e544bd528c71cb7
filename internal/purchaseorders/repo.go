package purchaseorders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// Repository persists purchase orders, their reference log and item links.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListOrderItems(ctx context.Context, orderID uuid.UUID) ([]models.OrderItem, error)
	FindByOrderSupplier(ctx context.Context, orderID, supplierID uuid.UUID) (*models.PurchaseOrder, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PurchaseOrder, error)
	FindRefLog(ctx context.Context, orderID, supplierID uuid.UUID) (*models.PurchaseOrderRefLog, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
	CreateRefLog(ctx context.Context, entry *models.PurchaseOrderRefLog) error
	Create(ctx context.Context, po *models.PurchaseOrder) error
	UpdateAmounts(ctx context.Context, po *models.PurchaseOrder) error
	ClearItemLinks(ctx context.Context, orderID uuid.UUID) error
	LinkItems(ctx context.Context, purchaseOrderID uuid.UUID, itemIDs []uuid.UUID) error
	CancelUnfunded(ctx context.Context, orderID uuid.UUID, keep []uuid.UUID) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository binds a purchase order repository to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
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

func (r *repository) FindByOrderSupplier(ctx context.Context, orderID, supplierID uuid.UUID) (*models.PurchaseOrder, error) {
	var po models.PurchaseOrder
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND supplier_id = ?", orderID, supplierID).
		First(&po).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &po, nil
}

func (r *repository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.PurchaseOrder, error) {
	var pos []models.PurchaseOrder
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status <> ?", orderID, enums.PurchaseOrderStatusCanceled).
		Order("supplier_id ASC").
		Find(&pos).Error; err != nil {
		return nil, err
	}
	return pos, nil
}

func (r *repository) FindRefLog(ctx context.Context, orderID, supplierID uuid.UUID) (*models.PurchaseOrderRefLog, error) {
	var entry models.PurchaseOrderRefLog
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND supplier_id = ?", orderID, supplierID).
		Order("created_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.PurchaseOrderRefLog{}).
		Where("supplier_order_ref = ?", reference).
		Count(&count).Error; err != nil {
		return false, err
	}
	if count > 0 {
		return true, nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.PurchaseOrder{}).
		Where("supplier_order_ref = ?", reference).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repository) CreateRefLog(ctx context.Context, entry *models.PurchaseOrderRefLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) Create(ctx context.Context, po *models.PurchaseOrder) error {
	if po.ID == uuid.Nil {
		po.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(po).Error
}

func (r *repository) UpdateAmounts(ctx context.Context, po *models.PurchaseOrder) error {
	return r.db.WithContext(ctx).
		Model(&models.PurchaseOrder{}).
		Where("id = ?", po.ID).
		Updates(map[string]any{
			"subtotal_minor":        po.SubtotalMinor,
			"supplier_amount_minor": po.SupplierAmountMinor,
			"platform_fee_minor":    po.PlatformFeeMinor,
			"status":                po.Status,
			"updated_at":            time.Now().UTC(),
		}).Error
}

func (r *repository) ClearItemLinks(ctx context.Context, orderID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("order_id = ? AND purchase_order_id IS NOT NULL", orderID).
		Update("purchase_order_id", nil).Error
}

func (r *repository) LinkItems(ctx context.Context, purchaseOrderID uuid.UUID, itemIDs []uuid.UUID) error {
	if len(itemIDs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Model(&models.OrderItem{}).
		Where("id IN ?", itemIDs).
		Update("purchase_order_id", purchaseOrderID).Error
}

// CancelUnfunded cancels CREATED purchase orders of the order that are not in
// keep. Funded or paid out rows are never touched.
func (r *repository) CancelUnfunded(ctx context.Context, orderID uuid.UUID, keep []uuid.UUID) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.PurchaseOrder{}).
		Where("order_id = ? AND status = ?", orderID, enums.PurchaseOrderStatusCreated)
	if len(keep) > 0 {
		query = query.Where("id NOT IN ?", keep)
	}
	res := query.Updates(map[string]any{
		"status":     enums.PurchaseOrderStatusCanceled,
		"updated_at": time.Now().UTC(),
	})
	return res.RowsAffected, res.Error
}
