package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
)

// Repository manages persistence for supplier ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.SupplierLedgerEntry) error
	FindByReference(ctx context.Context, supplierID uuid.UUID, referenceType, referenceID string, entryType enums.LedgerEntryType) (*models.SupplierLedgerEntry, error)
	ListBySupplier(ctx context.Context, supplierID uuid.UUID) ([]models.SupplierLedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.SupplierLedgerEntry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) FindByReference(ctx context.Context, supplierID uuid.UUID, referenceType, referenceID string, entryType enums.LedgerEntryType) (*models.SupplierLedgerEntry, error) {
	var entry models.SupplierLedgerEntry
	err := r.db.WithContext(ctx).
		Where("supplier_id = ? AND reference_type = ? AND reference_id = ? AND type = ?",
			supplierID, referenceType, referenceID, entryType).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListBySupplier(ctx context.Context, supplierID uuid.UUID) ([]models.SupplierLedgerEntry, error) {
	var entries []models.SupplierLedgerEntry
	if err := r.db.WithContext(ctx).
		Where("supplier_id = ?", supplierID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
