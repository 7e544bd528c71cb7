package purchaseorders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/references"
	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
)

type referenceMinter interface {
	Mint(ctx context.Context, prefix string, attempts int, exists references.ExistsFunc) (string, error)
}

// Service creates and refreshes purchase orders inside a caller-owned
// transaction.
type Service struct {
	repo     Repository
	refs     referenceMinter
	attempts int
}

// NewService wires the fan-out service. A nil minter uses crypto/rand
// references.
func NewService(repo Repository, refs referenceMinter, attempts int) (*Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase order repository required")
	}
	if refs == nil {
		refs = references.NewGenerator()
	}
	if attempts <= 0 {
		attempts = references.DefaultAttempts
	}
	return &Service{repo: repo, refs: refs, attempts: attempts}, nil
}

// FanOut ensures one purchase order per chosen supplier of the order with
// up-to-date amounts and relinks the order items. It is safe to call again.
func (s *Service) FanOut(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.PurchaseOrder, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)

	items, err := repo.ListOrderItems(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order items")
	}
	if err := repo.ClearItemLinks(ctx, orderID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clear item links")
	}

	groups := GroupBySupplier(items)
	out := make([]models.PurchaseOrder, 0, len(groups))
	for _, group := range groups {
		po, err := s.ensure(ctx, tx, orderID, group)
		if err != nil {
			return nil, err
		}
		if err := repo.LinkItems(ctx, po.ID, group.ItemIDs()); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "link order items")
		}
		out = append(out, *po)
	}

	keep := make([]uuid.UUID, 0, len(out))
	for _, po := range out {
		keep = append(keep, po.ID)
	}
	if _, err := repo.CancelUnfunded(ctx, orderID, keep); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel stale purchase orders")
	}
	return out, nil
}

func (s *Service) ensure(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, group Group) (*models.PurchaseOrder, error) {
	repo := s.repo.WithTx(tx)

	existing, err := repo.FindByOrderSupplier(ctx, orderID, group.SupplierID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load purchase order")
	}
	if existing != nil {
		return s.refresh(ctx, repo, existing, group)
	}

	reference, err := s.resolveReference(ctx, tx, orderID, group.SupplierID)
	if err != nil {
		return nil, err
	}

	var result *models.PurchaseOrder
	err = references.Retry(ctx, s.attempts, func(int) error {
		po := &models.PurchaseOrder{
			ID:                  uuid.New(),
			OrderID:             orderID,
			SupplierID:          group.SupplierID,
			SupplierOrderRef:    reference,
			SubtotalMinor:       group.SubtotalMinor,
			SupplierAmountMinor: group.SupplierAmountMinor,
			PlatformFeeMinor:    group.PlatformFeeMinor,
			Status:              enums.PurchaseOrderStatusCreated,
		}
		// savepoint so a conflict leaves the outer transaction usable
		createErr := tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.WithTx(sp).Create(ctx, po)
		})
		if createErr == nil {
			result = po
			return nil
		}
		if !dbpkg.IsUniqueViolation(createErr, "") {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, createErr, "create purchase order")
		}

		raced, err := repo.FindByOrderSupplier(ctx, orderID, group.SupplierID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload purchase order")
		}
		if raced != nil {
			result, err = s.refresh(ctx, repo, raced, group)
			return err
		}

		reference, err = s.mintReference(ctx, tx, orderID, group.SupplierID)
		if err != nil {
			return err
		}
		return references.ErrCollision
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) refresh(ctx context.Context, repo Repository, po *models.PurchaseOrder, group Group) (*models.PurchaseOrder, error) {
	if po.Status == enums.PurchaseOrderStatusPaidOut {
		return po, nil
	}
	if po.Status == enums.PurchaseOrderStatusCanceled {
		po.Status = enums.PurchaseOrderStatusCreated
	} else if po.SubtotalMinor == group.SubtotalMinor &&
		po.SupplierAmountMinor == group.SupplierAmountMinor &&
		po.PlatformFeeMinor == group.PlatformFeeMinor {
		return po, nil
	}
	po.SubtotalMinor = group.SubtotalMinor
	po.SupplierAmountMinor = group.SupplierAmountMinor
	po.PlatformFeeMinor = group.PlatformFeeMinor
	if err := repo.UpdateAmounts(ctx, po); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update purchase order amounts")
	}
	return po, nil
}

// resolveReference reuses the last reference logged for the pair before
// minting a new one.
func (s *Service) resolveReference(ctx context.Context, tx *gorm.DB, orderID, supplierID uuid.UUID) (string, error) {
	logged, err := s.repo.WithTx(tx).FindRefLog(ctx, orderID, supplierID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load reference log")
	}
	if logged != nil {
		return logged.SupplierOrderRef, nil
	}
	return s.mintReference(ctx, tx, orderID, supplierID)
}

func (s *Service) mintReference(ctx context.Context, tx *gorm.DB, orderID, supplierID uuid.UUID) (string, error) {
	var minted string
	err := references.Retry(ctx, s.attempts, func(int) error {
		candidate, err := s.refs.Mint(ctx, references.PrefixPurchaseOrder, 1, s.repo.WithTx(tx).ReferenceExists)
		if err != nil {
			return err
		}
		logErr := tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.WithTx(sp).CreateRefLog(ctx, &models.PurchaseOrderRefLog{
				OrderID:          orderID,
				SupplierID:       supplierID,
				SupplierOrderRef: candidate,
			})
		})
		if logErr != nil {
			if dbpkg.IsUniqueViolation(logErr, "") {
				return references.ErrCollision
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, logErr, "log purchase order reference")
		}
		minted = candidate
		return nil
	})
	if err != nil {
		return "", err
	}
	return minted, nil
}
