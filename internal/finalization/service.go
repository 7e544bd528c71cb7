// Package finalization turns a PAID payment intent into its downstream
// financial facts exactly once, however many times it is triggered.
package finalization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/fees"
	"github.com/doncapon/yemisshop-sub004/internal/payouts"
	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/metrics"
)

// Effect names used in results, logs and metrics.
const (
	EffectCore            = "core"
	EffectNotifySuppliers = "notify_suppliers"
	EffectPayouts         = "payouts"
	EffectReceipt         = "receipt"
	EffectProfit          = "profit"
	EffectNotifyCustomer  = "notify_customer"
)

const (
	reasonAlreadyRecorded  = "already recorded"
	reasonNotConfigured    = "collaborator not configured"
	reasonPaymentNotPaid   = "payment is not paid"
	reasonCoreAlreadyRan   = "FINALIZE_PAID already recorded"
	defaultSweepBatchLimit = 100
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// PurchaseOrderFanOut creates or refreshes the order's purchase orders.
type PurchaseOrderFanOut interface {
	FanOut(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) ([]models.PurchaseOrder, error)
}

// AllocationRecorder reserves each purchase order's amount for the payment.
type AllocationRecorder interface {
	Record(ctx context.Context, tx *gorm.DB, paymentID uuid.UUID, pos []models.PurchaseOrder) ([]models.SupplierPaymentAllocation, error)
}

// Notifier sends the supplier and customer messages.
type Notifier interface {
	NotifySuppliers(ctx context.Context, orderID, paymentID uuid.UUID) (int, error)
	NotifyCustomerPaid(ctx context.Context, orderID, paymentID uuid.UUID) (int, error)
}

// PayoutDispatcher pays suppliers after the charge.
type PayoutDispatcher interface {
	Dispatch(ctx context.Context, paymentID uuid.UUID) (*payouts.DispatchResult, error)
}

// ReceiptIssuer issues the customer receipt.
type ReceiptIssuer interface {
	IssueOnce(ctx context.Context, paymentID uuid.UUID) (*models.Receipt, bool, error)
}

// ProfitComputer records the realized margin.
type ProfitComputer interface {
	Compute(ctx context.Context, paymentID uuid.UUID) (*models.ProfitBreakdown, error)
}

// ServiceParams wires the orchestrator.
type ServiceParams struct {
	Tx          txRunner
	Store       Store
	FanOut      PurchaseOrderFanOut
	Allocations AllocationRecorder
	Notifier    Notifier
	Payouts     PayoutDispatcher
	Receipts    ReceiptIssuer
	Profit      ProfitComputer
	Metrics     *metrics.FinalizationMetrics
	Logger      *logger.Logger
	Now         func() time.Time
}

// Service is the finalization orchestrator.
type Service struct {
	tx          txRunner
	store       Store
	fanOut      PurchaseOrderFanOut
	allocations AllocationRecorder
	notifier    Notifier
	payouts     PayoutDispatcher
	receipts    ReceiptIssuer
	profit      ProfitComputer
	metrics     *metrics.FinalizationMetrics
	logg        *logger.Logger
	now         func() time.Time
}

// NewService validates params and builds the orchestrator. The atomic core
// collaborators are required; a missing side-effect collaborator leaves that
// effect unrecorded so a later run can still perform it.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Store == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "finalization store required")
	}
	if params.FanOut == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "purchase order fan-out required")
	}
	if params.Allocations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "allocation recorder required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:          params.Tx,
		store:       params.Store,
		fanOut:      params.FanOut,
		allocations: params.Allocations,
		notifier:    params.Notifier,
		payouts:     params.Payouts,
		receipts:    params.Receipts,
		profit:      params.Profit,
		metrics:     params.Metrics,
		logg:        params.Logger,
		now:         now,
	}, nil
}

// EffectResult reports what happened to one step of a Finalize call.
type EffectResult struct {
	Name    string
	Event   enums.FinalizationEventType
	Outcome string
	Reason  string
	Err     error
}

// Result lists the outcome of every step. Err combines the side-effect
// failures; it never reflects the atomic core, whose failure is returned
// from Finalize directly.
type Result struct {
	PaymentID uuid.UUID
	Status    enums.PaymentStatus
	CoreRan   bool
	Effects   []EffectResult
	Err       error
}

// Outcome returns the outcome recorded for the named step, or "".
func (r *Result) Outcome(name string) string {
	if r == nil {
		return ""
	}
	for _, effect := range r.Effects {
		if effect.Name == name {
			return effect.Outcome
		}
	}
	return ""
}

// Failed lists the steps that failed.
func (r *Result) Failed() []string {
	if r == nil {
		return nil
	}
	var out []string
	for _, effect := range r.Effects {
		if effect.Outcome == metrics.OutcomeFailed {
			out = append(out, effect.Name)
		}
	}
	return out
}

// Finalize runs the atomic core once for a PAID intent and then every side
// effect whose marker is still missing. Re-running it is always safe.
func (s *Service) Finalize(ctx context.Context, paymentID uuid.UUID) (*Result, error) {
	ctx = s.withPayment(ctx, paymentID)
	intent, err := s.store.FindIntent(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	result := &Result{PaymentID: intent.ID, Status: intent.Status}
	if intent.Status != enums.PaymentStatusPaid {
		s.info(ctx, "finalize skipped; payment not paid", map[string]any{"status": intent.Status})
		result.Effects = append(result.Effects, EffectResult{Name: EffectCore, Outcome: metrics.OutcomeSkipped, Reason: reasonPaymentNotPaid})
		return result, nil
	}

	started := s.now()
	ran, err := s.runCore(ctx, paymentID)
	s.metrics.ObserveCore(s.now().Sub(started))
	if err != nil {
		s.metrics.IncEffect(EffectCore, metrics.OutcomeFailed)
		s.logError(ctx, "finalization core failed", err)
		return nil, err
	}
	result.CoreRan = ran
	core := EffectResult{Name: EffectCore, Event: enums.FinalizationFinalizePaid, Outcome: metrics.OutcomeRan}
	if !ran {
		core.Outcome = metrics.OutcomeSkipped
		core.Reason = reasonCoreAlreadyRan
	}
	s.metrics.IncEffect(EffectCore, core.Outcome)
	result.Effects = append(result.Effects, core)

	events, err := s.store.ListEvents(ctx, paymentID)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load finalization events")
	}
	done := make(map[enums.FinalizationEventType]bool, len(events))
	for _, event := range events {
		done[event.Type] = true
	}

	for _, eff := range s.effects() {
		out := s.runEffect(ctx, intent, done, eff)
		if out.Err != nil {
			result.Err = multierr.Append(result.Err, fmt.Errorf("%s: %w", out.Name, out.Err))
		}
		result.Effects = append(result.Effects, out)
	}

	fields := map[string]any{"core_ran": ran}
	if failed := result.Failed(); len(failed) > 0 {
		fields["failed_effects"] = failed
		s.warn(ctx, "finalization finished with failed effects", fields)
	} else {
		s.info(ctx, "finalization finished", fields)
	}
	return result, nil
}

// runCore executes the atomic unit. It reports false when FINALIZE_PAID was
// already present and nothing was written.
func (s *Service) runCore(ctx context.Context, paymentID uuid.UUID) (bool, error) {
	ran := false
	err := s.tx.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		ran = false
		st := s.store.WithTx(tx)
		intent, err := st.FindIntentForUpdate(ctx, paymentID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment intent")
		}
		if intent.Status != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, reasonPaymentNotPaid)
		}
		already, err := st.HasEvent(ctx, paymentID, enums.FinalizationFinalizePaid)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check finalize marker")
		}
		if already {
			return nil
		}

		now := s.now().UTC()
		canceled, err := st.CancelSiblings(ctx, intent.OrderID, intent.ID, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel sibling intents")
		}
		order, err := st.FindOrderForUpdate(ctx, intent.OrderID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
		}
		paidAt := now
		if intent.PaidAt != nil {
			paidAt = intent.PaidAt.UTC()
		}
		advanced, err := st.AdvanceOrder(ctx, order.ID, paidAt)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "advance order")
		}

		feeMinor, ratio := fees.ServiceFeeSlice(order.ServiceFeeTotalMinor, intent.AmountMinor, order.TotalMinor)
		if order.ServiceFeeTotalMinor > 0 {
			if err := st.RecordServiceFee(ctx, &models.OrderServiceFee{
				ID:          uuid.New(),
				PaymentID:   intent.ID,
				OrderID:     order.ID,
				AmountMinor: feeMinor,
				Ratio:       ratio.String(),
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record service fee")
			}
		}

		pos, err := s.fanOut.FanOut(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		allocations, err := s.allocations.Record(ctx, tx, intent.ID, pos)
		if err != nil {
			return err
		}

		metadata, err := json.Marshal(map[string]any{
			"siblings_canceled": canceled,
			"order_advanced":    advanced,
			"service_fee_minor": feeMinor,
			"purchase_orders":   len(pos),
			"allocations":       len(allocations),
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode finalize metadata")
		}
		if err := st.CreateEvent(ctx, &models.FinalizationEvent{
			ID:              uuid.New(),
			PaymentIntentID: intent.ID,
			Type:            enums.FinalizationFinalizePaid,
			Metadata:        datatypes.JSON(metadata),
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record finalize marker")
		}
		ran = true
		return nil
	})
	return ran, err
}

type effectOutput struct {
	event    enums.FinalizationEventType
	reason   string
	metadata map[string]any
}

type effect struct {
	name       string
	markers    []enums.FinalizationEventType
	configured bool
	run        func(ctx context.Context, intent *models.PaymentIntent) (effectOutput, error)
}

// effects are the post-commit steps in execution order.
func (s *Service) effects() []effect {
	return []effect{
		{
			name:       EffectNotifySuppliers,
			markers:    []enums.FinalizationEventType{enums.FinalizationSuppliersNotified},
			configured: s.notifier != nil,
			run: func(ctx context.Context, intent *models.PaymentIntent) (effectOutput, error) {
				sent, err := s.notifier.NotifySuppliers(ctx, intent.OrderID, intent.ID)
				return effectOutput{
					event:    enums.FinalizationSuppliersNotified,
					metadata: map[string]any{"requested": sent},
				}, err
			},
		},
		{
			name:       EffectPayouts,
			markers:    []enums.FinalizationEventType{enums.FinalizationPayoutsDispatched, enums.FinalizationPayoutsSkipped},
			configured: s.payouts != nil,
			run: func(ctx context.Context, intent *models.PaymentIntent) (effectOutput, error) {
				res, err := s.payouts.Dispatch(ctx, intent.ID)
				if err != nil {
					return effectOutput{}, err
				}
				if res.Skipped {
					return effectOutput{
						event:    enums.FinalizationPayoutsSkipped,
						reason:   res.Reason,
						metadata: map[string]any{"reason": res.Reason},
					}, nil
				}
				return effectOutput{
					event:    enums.FinalizationPayoutsDispatched,
					metadata: map[string]any{"transfers": len(res.Transfers)},
				}, nil
			},
		},
		{
			name:       EffectReceipt,
			markers:    []enums.FinalizationEventType{enums.FinalizationReceiptIssued},
			configured: s.receipts != nil,
			run: func(ctx context.Context, intent *models.PaymentIntent) (effectOutput, error) {
				receipt, _, err := s.receipts.IssueOnce(ctx, intent.ID)
				if err != nil {
					return effectOutput{}, err
				}
				return effectOutput{
					event:    enums.FinalizationReceiptIssued,
					metadata: map[string]any{"receipt_number": receipt.Number},
				}, nil
			},
		},
		{
			name:       EffectProfit,
			markers:    []enums.FinalizationEventType{enums.FinalizationProfitComputed},
			configured: s.profit != nil,
			run: func(ctx context.Context, intent *models.PaymentIntent) (effectOutput, error) {
				breakdown, err := s.profit.Compute(ctx, intent.ID)
				if err != nil {
					return effectOutput{}, err
				}
				return effectOutput{
					event: enums.FinalizationProfitComputed,
					metadata: map[string]any{
						"profit_minor":       breakdown.ProfitMinor,
						"mode":               breakdown.Mode,
						"cogs_fallback_used": breakdown.CogsFallbackUsed,
					},
				}, nil
			},
		},
		{
			name:       EffectNotifyCustomer,
			markers:    []enums.FinalizationEventType{enums.FinalizationCustomerNotified},
			configured: s.notifier != nil,
			run: func(ctx context.Context, intent *models.PaymentIntent) (effectOutput, error) {
				sent, err := s.notifier.NotifyCustomerPaid(ctx, intent.OrderID, intent.ID)
				return effectOutput{
					event:    enums.FinalizationCustomerNotified,
					metadata: map[string]any{"requested": sent},
				}, err
			},
		},
	}
}

// runEffect checks the effect's marker, runs it and records the marker. A
// failure is logged and counted but never propagated as a panic or abort.
func (s *Service) runEffect(ctx context.Context, intent *models.PaymentIntent, done map[enums.FinalizationEventType]bool, eff effect) EffectResult {
	out := EffectResult{Name: eff.name}
	for _, marker := range eff.markers {
		if done[marker] {
			out.Event = marker
			out.Outcome = metrics.OutcomeSkipped
			out.Reason = reasonAlreadyRecorded
			s.metrics.IncEffect(eff.name, out.Outcome)
			return out
		}
	}
	if !eff.configured {
		out.Outcome = metrics.OutcomeSkipped
		out.Reason = reasonNotConfigured
		s.metrics.IncEffect(eff.name, out.Outcome)
		return out
	}

	logCtx := ctx
	if s.logg != nil {
		logCtx = s.logg.WithField(ctx, "effect", eff.name)
	}
	res, err := s.safeRun(ctx, intent, eff)
	if err != nil {
		out.Outcome = metrics.OutcomeFailed
		out.Err = err
		s.metrics.IncEffect(eff.name, out.Outcome)
		s.logError(logCtx, "finalization effect failed", err)
		return out
	}
	out.Event = res.event
	out.Reason = res.reason

	if err := s.recordEvent(ctx, intent.ID, res.event, res.metadata); err != nil {
		out.Outcome = metrics.OutcomeFailed
		out.Err = err
		s.metrics.IncEffect(eff.name, out.Outcome)
		s.logError(logCtx, "record finalization marker failed", err)
		return out
	}
	done[res.event] = true
	out.Outcome = metrics.OutcomeRan
	s.metrics.IncEffect(eff.name, out.Outcome)
	if res.reason != "" {
		s.info(logCtx, "finalization effect skipped deliberately", map[string]any{"reason": res.reason})
	}
	return out
}

func (s *Service) safeRun(ctx context.Context, intent *models.PaymentIntent, eff effect) (out effectOutput, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = pkgerrors.New(pkgerrors.CodeInternal, fmt.Sprintf("effect panicked: %v", r))
		}
	}()
	return eff.run(ctx, intent)
}

// recordEvent writes the marker; a concurrent writer having won is success.
func (s *Service) recordEvent(ctx context.Context, paymentID uuid.UUID, eventType enums.FinalizationEventType, metadata map[string]any) error {
	raw, err := json.Marshal(metadata)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode marker metadata")
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.store.WithTx(tx).CreateEvent(ctx, &models.FinalizationEvent{
			ID:              uuid.New(),
			PaymentIntentID: paymentID,
			Type:            eventType,
			Metadata:        datatypes.JSON(raw),
		})
	})
	if err != nil && !dbpkg.IsUniqueViolation(err, "") {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record finalization marker")
	}
	return nil
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	Scanned   int
	Finalized int
	Failed    int
}

// Sweep re-finalizes PAID intents paid since the cutoff that still miss a
// marker. Individual failures are combined into the returned error.
func (s *Service) Sweep(ctx context.Context, since time.Time, limit int) (SweepResult, error) {
	if limit <= 0 {
		limit = defaultSweepBatchLimit
	}
	ids, err := s.store.ListPaidMissingEvents(ctx, since, limit)
	if err != nil {
		return SweepResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list unfinalized payments")
	}
	res := SweepResult{Scanned: len(ids)}
	var errs error
	for _, id := range ids {
		if ctx.Err() != nil {
			errs = multierr.Append(errs, ctx.Err())
			break
		}
		out, err := s.Finalize(ctx, id)
		if err == nil && out != nil {
			err = out.Err
		}
		if err != nil {
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("payment %s: %w", id, err))
			continue
		}
		res.Finalized++
	}
	return res, errs
}

func (s *Service) withPayment(ctx context.Context, paymentID uuid.UUID) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithPaymentID(ctx, paymentID.String())
}

func (s *Service) info(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	if len(fields) > 0 {
		ctx = s.logg.WithFields(ctx, fields)
	}
	s.logg.Info(ctx, msg)
}

func (s *Service) warn(ctx context.Context, msg string, fields map[string]any) {
	if s.logg == nil {
		return
	}
	if len(fields) > 0 {
		ctx = s.logg.WithFields(ctx, fields)
	}
	s.logg.Warn(ctx, msg)
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Error(ctx, msg, err)
}
