// Package payments owns the payment intent lifecycle: creation with
// resumption and supersession, and the single PENDING to PAID transition.
package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/references"
	dbpkg "github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

// Reasons stored on intents that did not end PAID.
const (
	ReasonSuperseded = "superseded"
	ReasonExpired    = "expired"
)

// Source names the confirmation path that reported a payment.
type Source string

const (
	SourcePull  Source = "pull"
	SourcePush  Source = "push"
	SourceAdmin Source = "admin"
)

const lateSuccessDedupeKey = "late_success"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
	WithSerializableTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type referenceMinter interface {
	Mint(ctx context.Context, prefix string, attempts int, exists references.ExistsFunc) (string, error)
}

// Service manages payment intents.
type Service interface {
	CreateIntent(ctx context.Context, orderID uuid.UUID, channel enums.PaymentChannel) (*IntentResult, error)
	InitializeCheckout(ctx context.Context, input CheckoutInput) (*CheckoutSession, error)
	MarkPaid(ctx context.Context, input MarkPaidInput) (*MarkPaidResult, error)
	MarkFailed(ctx context.Context, reference, reason string) (*models.PaymentIntent, error)
	ExpireStale(ctx context.Context, limit int) (int64, error)
	Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error)
}

// IntentResult is the outcome of CreateIntent. Resumed is true when an
// existing fresh intent was handed back unchanged.
type IntentResult struct {
	Intent  *models.PaymentIntent
	Order   *models.Order
	Resumed bool
}

// MarkPaidInput carries the gateway's authoritative view of a payment.
type MarkPaidInput struct {
	Reference   string
	AmountMinor int64
	FeeMinor    *int64
	PaidAt      time.Time
	Channel     string
	Payload     []byte
	Source      Source
}

// MarkPaidResult reports whether this call flipped the intent.
type MarkPaidResult struct {
	Intent       *models.PaymentIntent
	Transitioned bool
}

// ServiceParams wires the payment service.
type ServiceParams struct {
	Tx                txRunner
	Repo              Repository
	Outbox            outboxPublisher
	References        referenceMinter
	Charger           Charger
	Splits            SplitPlanner
	SplitEnabled      func() bool
	Logger            *logger.Logger
	IntentTTL         time.Duration
	ReferenceAttempts int
	Currency          string
	CallbackURL       string
	Now               func() time.Time
}

type service struct {
	tx           txRunner
	repo         Repository
	outbox       outboxPublisher
	refs         referenceMinter
	charger      Charger
	splits       SplitPlanner
	splitEnabled func() bool
	logg         *logger.Logger
	ttl          time.Duration
	attempts     int
	currency     string
	callbackURL  string
	now          func() time.Time
}

// NewService validates params and builds the payment service.
func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tx runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment repository required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox publisher required")
	}
	if params.IntentTTL <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "intent ttl must be positive")
	}
	attempts := params.ReferenceAttempts
	if attempts <= 0 {
		attempts = references.DefaultAttempts
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	refs := params.References
	if refs == nil {
		refs = references.NewGenerator(references.WithClock(now))
	}
	splitEnabled := params.SplitEnabled
	if splitEnabled == nil {
		splitEnabled = func() bool { return false }
	}
	return &service{
		tx:           params.Tx,
		repo:         params.Repo,
		outbox:       params.Outbox,
		refs:         refs,
		charger:      params.Charger,
		splits:       params.Splits,
		splitEnabled: splitEnabled,
		logg:         params.Logger,
		ttl:          params.IntentTTL,
		attempts:     attempts,
		currency:     params.Currency,
		callbackURL:  params.CallbackURL,
		now:          now,
	}, nil
}

func (s *service) CreateIntent(ctx context.Context, orderID uuid.UUID, channel enums.PaymentChannel) (*IntentResult, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if channel == "" {
		channel = enums.PaymentChannelCard
	}
	if !channel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid payment channel %q", channel))
	}

	var result *IntentResult
	// A reference taken between the existence check and the insert aborts the
	// transaction, so the whole unit is replayed with a fresh candidate.
	err := references.Retry(ctx, s.attempts, func(int) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)

			order, err := repo.FindOrderForUpdate(ctx, orderID)
			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
			}
			if order.TotalMinor <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
			}
			if order.Status == enums.OrderStatusCanceled {
				return pkgerrors.New(pkgerrors.CodeStateConflict, "order is canceled")
			}

			intents, err := repo.ListByOrder(ctx, orderID)
			if err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment intents")
			}
			now := s.now().UTC()
			for i := range intents {
				if intents[i].Status == enums.PaymentStatusPaid {
					return pkgerrors.New(pkgerrors.CodeConflict, "order already paid")
				}
			}
			for i := range intents {
				candidate := intents[i]
				if candidate.Status == enums.PaymentStatusPending &&
					candidate.Channel == channel &&
					candidate.ExpiresAt.After(now) {
					result = &IntentResult{Intent: &candidate, Order: order, Resumed: true}
					return nil
				}
			}

			if _, err := repo.CancelPending(ctx, orderID, uuid.Nil, ReasonSuperseded); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "supersede pending intents")
			}

			reference, err := s.refs.Mint(ctx, references.PrefixPayment, 1, repo.ReferenceExists)
			if err != nil {
				return err
			}
			intent := &models.PaymentIntent{
				ID:          uuid.New(),
				OrderID:     orderID,
				Reference:   reference,
				AmountMinor: order.TotalMinor,
				Status:      enums.PaymentStatusPending,
				Channel:     channel,
				ExpiresAt:   now.Add(s.ttl),
			}
			if err := repo.Create(ctx, intent); err != nil {
				if dbpkg.IsUniqueViolation(err, "") {
					return references.ErrCollision
				}
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment intent")
			}
			result = &IntentResult{Intent: intent, Order: order}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":   orderID.String(),
			"payment_id": result.Intent.ID.String(),
			"reference":  result.Intent.Reference,
			"resumed":    result.Resumed,
		})
		s.logg.Info(logCtx, "payment intent ready")
	}
	return result, nil
}

func (s *service) MarkPaid(ctx context.Context, input MarkPaidInput) (*MarkPaidResult, error) {
	if input.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}
	if input.Source == "" {
		input.Source = SourcePull
	}

	var (
		result      *MarkPaidResult
		lateSuccess *models.PaymentIntent
	)
	err := s.tx.WithSerializableTx(ctx, func(tx *gorm.DB) error {
		result = nil
		lateSuccess = nil
		repo := s.repo.WithTx(tx)

		intent, err := repo.FindByReferenceForUpdate(ctx, input.Reference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment intent")
		}

		switch intent.Status {
		case enums.PaymentStatusPaid:
			result = &MarkPaidResult{Intent: intent}
			return nil
		case enums.PaymentStatusFailed, enums.PaymentStatusCanceled:
			lateSuccess = intent
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventPaymentLateSuccess,
				AggregateType: enums.AggregatePaymentIntent,
				AggregateID:   intent.ID,
				DedupeKey:     lateSuccessDedupeKey,
				Data: payloads.PaymentLateSuccessEvent{
					PaymentID:   intent.ID,
					OrderID:     intent.OrderID,
					Reference:   intent.Reference,
					Status:      intent.Status,
					AmountMinor: input.AmountMinor,
				},
			})
		}

		paidAt := input.PaidAt
		if paidAt.IsZero() {
			paidAt = s.now()
		}
		paidAt = paidAt.UTC()
		intent.Status = enums.PaymentStatusPaid
		intent.PaidAt = &paidAt
		if input.AmountMinor > 0 {
			intent.AmountMinor = input.AmountMinor
		}
		if input.FeeMinor != nil {
			fee := *input.FeeMinor
			intent.FeeMinor = &fee
		}
		if channel := enums.PaymentChannel(input.Channel); channel.IsValid() {
			intent.Channel = channel
		}
		if len(input.Payload) > 0 {
			intent.ProviderPayload = datatypes.JSON(input.Payload)
		}
		if err := repo.Update(ctx, intent); err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "order already has a paid intent")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark intent paid")
		}
		if _, err := repo.CancelPending(ctx, intent.OrderID, intent.ID, ReasonSuperseded); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel sibling intents")
		}
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentPaid,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   intent.ID,
			OccurredAt:    paidAt,
			Data: payloads.PaymentPaidEvent{
				PaymentID:   intent.ID,
				OrderID:     intent.OrderID,
				Reference:   intent.Reference,
				AmountMinor: intent.AmountMinor,
				Source:      string(input.Source),
				PaidAt:      paidAt,
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "queue payment paid event")
		}
		result = &MarkPaidResult{Intent: intent, Transitioned: true}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if lateSuccess != nil {
		if s.logg != nil {
			logCtx := s.logg.WithFields(ctx, map[string]any{
				"payment_id": lateSuccess.ID.String(),
				"order_id":   lateSuccess.OrderID.String(),
				"reference":  lateSuccess.Reference,
				"status":     lateSuccess.Status,
				"source":     input.Source,
			})
			s.logg.Warn(logCtx, "payment succeeded on a terminal intent; manual reconciliation required")
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment intent is no longer payable").
			WithDetails(map[string]any{"status": lateSuccess.Status})
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id":   result.Intent.ID.String(),
			"order_id":     result.Intent.OrderID.String(),
			"reference":    result.Intent.Reference,
			"source":       input.Source,
			"transitioned": result.Transitioned,
		})
		s.logg.Info(logCtx, "payment marked paid")
	}
	return result, nil
}

func (s *service) MarkFailed(ctx context.Context, reference, reason string) (*models.PaymentIntent, error) {
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference required")
	}

	var intent *models.PaymentIntent
	var flipped bool
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		found, err := repo.FindByReferenceForUpdate(ctx, reference)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment intent")
		}
		intent = found
		if !found.Status.CanTransitionTo(enums.PaymentStatusFailed) {
			return nil
		}
		found.Status = enums.PaymentStatusFailed
		if reason != "" {
			r := reason
			found.FailureReason = &r
		}
		if err := repo.Update(ctx, found); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark intent failed")
		}
		flipped = true
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   found.ID,
			Data: payloads.PaymentFailedEvent{
				PaymentID: found.ID,
				OrderID:   found.OrderID,
				Reference: found.Reference,
				Reason:    reason,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if flipped && s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id": intent.ID.String(),
			"reference":  intent.Reference,
			"reason":     reason,
		})
		s.logg.Info(logCtx, "payment marked failed")
	}
	return intent, nil
}

// ExpireStale cancels PENDING intents whose TTL has lapsed.
func (s *service) ExpireStale(ctx context.Context, limit int) (int64, error) {
	now := s.now().UTC()
	var canceled int64
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		expired, err := repo.ListExpiredPending(ctx, now, limit)
		if err != nil {
			return err
		}
		if len(expired) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(expired))
		for _, intent := range expired {
			ids = append(ids, intent.ID)
		}
		canceled, err = repo.CancelExpired(ctx, ids, now)
		return err
	})
	if err != nil {
		return 0, err
	}
	return canceled, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	return intent, nil
}

func (s *service) GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error) {
	intent, err := s.repo.FindByReference(ctx, reference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment intent not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment intent")
	}
	return intent, nil
}
