// Package payouts routes supplier shares either through a gateway split at
// charge time or through transfers after payment.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/references"
	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

// Reasons recorded when payouts are not executed.
const (
	ReasonSandbox       = "sandbox mode: transfers are never executed"
	ReasonSplitApplied  = "split applied at charge time"
	ReasonNothingHeld   = "no held allocations"
	ReasonNoDestination = "supplier has no payout destination"
)

// Transferer is the slice of the gateway used for payouts.
type Transferer interface {
	Sandbox() bool
	CreateTransferRecipient(ctx context.Context, req gateway.RecipientRequest) (string, error)
	InitiateTransfer(ctx context.Context, req gateway.TransferRequest) (*gateway.Transfer, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type referenceMinter interface {
	New(prefix string) (string, error)
}

// ServiceParams wires the payout service.
type ServiceParams struct {
	Tx         txRunner
	Repo       Repository
	Gateway    Transferer
	Outbox     outboxPublisher
	References referenceMinter
	Logger     *logger.Logger
	Currency   string
	Now        func() time.Time
}

// Service builds split plans and dispatches post-payment transfers.
type Service struct {
	tx       txRunner
	repo     Repository
	gateway  Transferer
	outbox   outboxPublisher
	refs     referenceMinter
	logg     *logger.Logger
	currency string
	now      func() time.Time
}

// NewService validates params and builds the payout service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	refs := params.References
	if refs == nil {
		refs = references.NewGenerator(references.WithClock(now))
	}
	return &Service{
		tx:       params.Tx,
		repo:     params.Repo,
		gateway:  params.Gateway,
		outbox:   params.Outbox,
		refs:     refs,
		logg:     params.Logger,
		currency: params.Currency,
		now:      now,
	}, nil
}

// Instruction is the amount owed to one supplier for one payment.
type Instruction struct {
	SupplierID  uuid.UUID
	AmountMinor int64
}

// DispatchResult describes one Dispatch call. Skipped means nothing was
// attempted at all and Reason says why.
type DispatchResult struct {
	Skipped   bool
	Reason    string
	Transfers []models.PayoutTransfer
}

// Instructions sums HELD allocations per supplier.
func Instructions(allocations []models.SupplierPaymentAllocation) []Instruction {
	bySupplier := map[uuid.UUID]int64{}
	for _, allocation := range allocations {
		if allocation.Status != enums.AllocationStatusHeld {
			continue
		}
		bySupplier[allocation.SupplierID] += allocation.AmountMinor
	}
	out := make([]Instruction, 0, len(bySupplier))
	for supplierID, amount := range bySupplier {
		if amount <= 0 {
			continue
		}
		out = append(out, Instruction{SupplierID: supplierID, AmountMinor: amount})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierID.String() < out[j].SupplierID.String() })
	return out
}

// Dispatch pays suppliers their held share of a payment. A supplier with a
// sent transfer is never paid again. Per-supplier failures are combined into
// the returned error; the result still lists what was attempted.
func (s *Service) Dispatch(ctx context.Context, paymentID uuid.UUID) (*DispatchResult, error) {
	if s.gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payout gateway not configured")
	}
	intent, err := s.repo.FindIntent(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	if intent.Status != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not paid")
	}
	if intent.SplitApplied {
		return s.skip(ctx, paymentID, ReasonSplitApplied), nil
	}
	if s.gateway.Sandbox() {
		return s.skip(ctx, paymentID, ReasonSandbox), nil
	}

	allocations, err := s.repo.ListAllocations(ctx, paymentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load allocations")
	}
	instructions := Instructions(allocations)
	if len(instructions) == 0 {
		return s.skip(ctx, paymentID, ReasonNothingHeld), nil
	}

	ids := make([]uuid.UUID, 0, len(instructions))
	for _, instruction := range instructions {
		ids = append(ids, instruction.SupplierID)
	}
	suppliers, err := s.repo.ListSuppliers(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load suppliers")
	}

	currency := s.currency
	if order, err := s.repo.FindOrder(ctx, intent.OrderID); err == nil && order.Currency != "" {
		currency = order.Currency
	}

	result := &DispatchResult{}
	var errs error
	for _, instruction := range instructions {
		transfer, err := s.pay(ctx, intent, suppliers[instruction.SupplierID], instruction, currency)
		if transfer != nil {
			result.Transfers = append(result.Transfers, *transfer)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("supplier %s: %w", instruction.SupplierID, err))
		}
	}
	return result, errs
}

func (s *Service) skip(ctx context.Context, paymentID uuid.UUID, reason string) *DispatchResult {
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id": paymentID.String(),
			"reason":     reason,
		})
		s.logg.Info(logCtx, "payouts skipped")
	}
	return &DispatchResult{Skipped: true, Reason: reason}
}

func (s *Service) pay(ctx context.Context, intent *models.PaymentIntent, supplier models.Supplier, instruction Instruction, currency string) (*models.PayoutTransfer, error) {
	transfer, err := s.repo.FindTransfer(ctx, intent.ID, instruction.SupplierID)
	if err != nil {
		return nil, err
	}
	if transfer != nil && transfer.Status == enums.TransferStatusSent {
		return transfer, nil
	}
	if transfer == nil {
		reference, err := s.refs.New(references.PrefixTransfer)
		if err != nil {
			return nil, err
		}
		transfer = &models.PayoutTransfer{
			ID:          uuid.New(),
			PaymentID:   intent.ID,
			SupplierID:  instruction.SupplierID,
			AmountMinor: instruction.AmountMinor,
			Reference:   reference,
			Status:      enums.TransferStatusQueued,
		}
		if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return s.repo.FindTransfer(ctx, intent.ID, instruction.SupplierID)
			}
			return nil, err
		}
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithFields(ctx, map[string]any{
			"payment_id":  intent.ID.String(),
			"supplier_id": instruction.SupplierID.String(),
			"reference":   transfer.Reference,
		})
	}

	recipient, err := s.recipientCode(ctx, supplier, currency)
	if err != nil {
		return transfer, s.fail(ctx, transfer, err)
	}
	if recipient == "" {
		transfer.Status = enums.TransferStatusSkipped
		reason := ReasonNoDestination
		transfer.Reason = &reason
		if s.logg != nil {
			s.logg.Warn(logCtx, "payout skipped: "+ReasonNoDestination)
		}
		return transfer, s.repo.UpdateTransfer(ctx, transfer)
	}
	transfer.RecipientCode = &recipient

	sent, err := s.gateway.InitiateTransfer(ctx, gateway.TransferRequest{
		AmountMinor:   transfer.AmountMinor,
		RecipientCode: recipient,
		Reference:     transfer.Reference,
		Reason:        fmt.Sprintf("payout for payment %s", intent.Reference),
		Currency:      currency,
	})
	if err != nil {
		return transfer, s.fail(ctx, transfer, err)
	}

	now := s.now().UTC()
	transfer.Status = enums.TransferStatusSent
	transfer.Reason = nil
	if sent.TransferCode != "" {
		code := sent.TransferCode
		transfer.TransferCode = &code
	}
	if err := s.recordSent(ctx, intent, transfer, now); err != nil {
		return transfer, err
	}
	if s.logg != nil {
		s.logg.Info(logCtx, "payout transfer sent")
	}
	return transfer, nil
}

func (s *Service) recordSent(ctx context.Context, intent *models.PaymentIntent, transfer *models.PayoutTransfer, at time.Time) error {
	write := func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := repo.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		if err := repo.MarkSupplierPaid(ctx, intent.ID, transfer.SupplierID, at); err != nil {
			return err
		}
		if s.outbox == nil || tx == nil {
			return nil
		}
		code := ""
		if transfer.TransferCode != nil {
			code = *transfer.TransferCode
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPayoutTransferSent,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   intent.ID,
			DedupeKey:     "transfer:" + transfer.SupplierID.String(),
			Data: payloads.PayoutTransferSentEvent{
				PaymentID:    intent.ID,
				SupplierID:   transfer.SupplierID,
				AmountMinor:  transfer.AmountMinor,
				Reference:    transfer.Reference,
				TransferCode: code,
			},
		})
	}
	if s.tx == nil {
		return write(nil)
	}
	return s.tx.WithTx(ctx, write)
}

func (s *Service) fail(ctx context.Context, transfer *models.PayoutTransfer, cause error) error {
	transfer.Status = enums.TransferStatusFailed
	reason := cause.Error()
	if len(reason) > 512 {
		reason = reason[:512]
	}
	transfer.Reason = &reason
	if err := s.repo.UpdateTransfer(ctx, transfer); err != nil {
		return multierr.Append(cause, err)
	}
	return cause
}

// recipientCode returns the stored recipient or registers one with the
// gateway. An empty code means the supplier has no usable bank details.
func (s *Service) recipientCode(ctx context.Context, supplier models.Supplier, currency string) (string, error) {
	if supplier.RecipientCode != nil && strings.TrimSpace(*supplier.RecipientCode) != "" {
		return *supplier.RecipientCode, nil
	}
	if supplier.ID == uuid.Nil ||
		supplier.AccountNumber == nil || strings.TrimSpace(*supplier.AccountNumber) == "" ||
		supplier.BankCode == nil || strings.TrimSpace(*supplier.BankCode) == "" {
		return "", nil
	}
	name := supplier.Name
	if supplier.AccountName != nil && *supplier.AccountName != "" {
		name = *supplier.AccountName
	}
	code, err := s.gateway.CreateTransferRecipient(ctx, gateway.RecipientRequest{
		Name:          name,
		AccountNumber: *supplier.AccountNumber,
		BankCode:      *supplier.BankCode,
		Currency:      currency,
	})
	if err != nil {
		return "", err
	}
	if err := s.repo.SaveRecipientCode(ctx, supplier.ID, code); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store recipient code")
	}
	return code, nil
}
