// Package allocations reserves each supplier's share of a payment and lets an
// admin release it by hand.
package allocations

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/ledger"
	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// BreakdownEntry is one supplier's line in the snapshot stored on the intent.
type BreakdownEntry struct {
	SupplierID       uuid.UUID              `json:"supplier_id"`
	PurchaseOrderID  uuid.UUID              `json:"purchase_order_id"`
	SupplierOrderRef string                 `json:"supplier_order_ref"`
	AllocationID     uuid.UUID              `json:"allocation_id"`
	SubtotalMinor    int64                  `json:"subtotal_minor"`
	AmountMinor      int64                  `json:"amount_minor"`
	PlatformFeeMinor int64                  `json:"platform_fee_minor"`
	Status           enums.AllocationStatus `json:"status"`
}

// ServiceParams wires the allocation service.
type ServiceParams struct {
	Tx         txRunner
	Repo       Repository
	LedgerRepo ledger.Repository
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service records and releases supplier payment allocations.
type Service struct {
	tx         txRunner
	repo       Repository
	ledgerRepo ledger.Repository
	logg       *logger.Logger
	now        func() time.Time
}

// NewService validates params and builds the allocation service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "allocation repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:         params.Tx,
		repo:       params.Repo,
		ledgerRepo: params.LedgerRepo,
		logg:       params.Logger,
		now:        now,
	}, nil
}

// Record ensures exactly one allocation per purchase order for the payment.
// Existing allocations are left untouched, so a PAID allocation never goes
// back to HELD. Purchase orders are marked FUNDED and the per-supplier
// breakdown is written to the intent. It runs inside the caller's transaction.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, pos []models.PurchaseOrder) ([]models.SupplierPaymentAllocation, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required")
	}
	repo := s.repo.WithTx(tx)
	now := s.now().UTC()

	out := make([]models.SupplierPaymentAllocation, 0, len(pos))
	breakdown := make([]BreakdownEntry, 0, len(pos))
	for _, po := range pos {
		allocation, err := s.ensure(ctx, tx, paymentID, po)
		if err != nil {
			return nil, err
		}
		if err := repo.MarkPurchaseOrderFunded(ctx, po.ID, now); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark purchase order funded")
		}
		out = append(out, *allocation)
		breakdown = append(breakdown, BreakdownEntry{
			SupplierID:       po.SupplierID,
			PurchaseOrderID:  po.ID,
			SupplierOrderRef: po.SupplierOrderRef,
			AllocationID:     allocation.ID,
			SubtotalMinor:    po.SubtotalMinor,
			AmountMinor:      allocation.AmountMinor,
			PlatformFeeMinor: po.PlatformFeeMinor,
			Status:           allocation.Status,
		})
	}

	payload, err := json.Marshal(breakdown)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode supplier breakdown")
	}
	if err := repo.SaveBreakdown(ctx, paymentID, payload); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store supplier breakdown")
	}
	return out, nil
}

func (s *Service) ensure(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, po models.PurchaseOrder) (*models.SupplierPaymentAllocation, error) {
	repo := s.repo.WithTx(tx)
	existing, err := repo.FindByPaymentAndPurchaseOrder(ctx, paymentID, po.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load allocation")
	}
	if existing != nil {
		return existing, nil
	}

	allocation := &models.SupplierPaymentAllocation{
		ID:              uuid.New(),
		PaymentID:       paymentID,
		PurchaseOrderID: po.ID,
		SupplierID:      po.SupplierID,
		AmountMinor:     po.SupplierAmountMinor,
		Status:          enums.AllocationStatusHeld,
	}
	createErr := tx.Transaction(func(sp *gorm.DB) error {
		return s.repo.WithTx(sp).Create(ctx, allocation)
	})
	if createErr == nil {
		return allocation, nil
	}
	if !dbpkg.IsUniqueViolation(createErr, "") {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, createErr, "create allocation")
	}
	existing, err = repo.FindByPaymentAndPurchaseOrder(ctx, paymentID, po.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload allocation")
	}
	if existing == nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, createErr, "allocation conflict")
	}
	return existing, nil
}

// ForceMarkPaidInput is an admin release of one allocation.
type ForceMarkPaidInput struct {
	AllocationID uuid.UUID
	WriteCredit  bool
	Note         string
	Actor        string
}

// ForceMarkPaidResult reports what the override changed.
type ForceMarkPaidResult struct {
	Allocation    *models.SupplierPaymentAllocation
	AlreadyPaid   bool
	CreditWritten bool
	LedgerEntry   *models.SupplierLedgerEntry
}

// ForceMarkPaid sets the allocation PAID and, when asked, writes a manual
// ledger credit. Both halves are idempotent.
func (s *Service) ForceMarkPaid(ctx context.Context, input ForceMarkPaidInput) (*ForceMarkPaidResult, error) {
	if input.AllocationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "allocation id required")
	}
	if s.tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if input.WriteCredit && s.ledgerRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger repository required")
	}

	var result *ForceMarkPaidResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		allocation, err := repo.FindByIDForUpdate(ctx, input.AllocationID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "allocation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock allocation")
		}
		if allocation.Status == enums.AllocationStatusReversed {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "allocation was reversed")
		}

		result = &ForceMarkPaidResult{Allocation: allocation}
		now := s.now().UTC()
		if allocation.Status == enums.AllocationStatusPaid {
			result.AlreadyPaid = true
		} else {
			var note *string
			if input.Note != "" {
				n := input.Note
				note = &n
			}
			if err := repo.MarkPaid(ctx, allocation.ID, now, note); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark allocation paid")
			}
			allocation.Status = enums.AllocationStatusPaid
			allocation.PaidAt = &now
			allocation.Note = note
		}

		if err := s.settlePurchaseOrder(ctx, repo, allocation.PurchaseOrderID, now); err != nil {
			return err
		}

		if !input.WriteCredit {
			return nil
		}
		ledgerSvc, err := ledger.NewService(s.ledgerRepo.WithTx(tx))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build ledger service")
		}
		metadata, _ := json.Marshal(map[string]any{
			"payment_id":        allocation.PaymentID,
			"purchase_order_id": allocation.PurchaseOrderID,
			"actor":             input.Actor,
		})
		entry, created, err := ledgerSvc.RecordEntry(ctx, ledger.RecordEntryInput{
			SupplierID:    allocation.SupplierID,
			Type:          enums.LedgerEntryCredit,
			AmountMinor:   allocation.AmountMinor,
			ReferenceType: ledger.ReferenceAllocation,
			ReferenceID:   allocation.ID.String(),
			Note:          input.Note,
			Metadata:      metadata,
		})
		if err != nil {
			return err
		}
		result.LedgerEntry = entry
		result.CreditWritten = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"allocation_id":  input.AllocationID.String(),
			"already_paid":   result.AlreadyPaid,
			"credit_written": result.CreditWritten,
			"actor":          input.Actor,
		})
		s.logg.Info(logCtx, "allocation force-marked paid")
	}
	return result, nil
}

// settlePurchaseOrder moves the purchase order to PAID_OUT once every
// allocation against it is PAID.
func (s *Service) settlePurchaseOrder(ctx context.Context, repo Repository, purchaseOrderID uuid.UUID, at time.Time) error {
	siblings, err := repo.ListByPurchaseOrder(ctx, purchaseOrderID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list purchase order allocations")
	}
	for _, sibling := range siblings {
		if sibling.Status != enums.AllocationStatusPaid {
			return nil
		}
	}
	if err := repo.MarkPurchaseOrderPaidOut(ctx, purchaseOrderID, at); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark purchase order paid out")
	}
	return nil
}

// ListByPayment returns the allocations recorded for a payment.
func (s *Service) ListByPayment(ctx context.Context, paymentID uuid.UUID) ([]models.SupplierPaymentAllocation, error) {
	return s.repo.ListByPayment(ctx, paymentID)
}
