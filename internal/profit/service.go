// Package profit computes the realized margin of a paid intent.
package profit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/doncapon/yemisshop-sub004/internal/settings"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

// HomeCountry is where local card pricing applies.
const HomeCountry = "NG"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// CommsCoster sums incidental messaging cost for an order.
type CommsCoster interface {
	CommsCostMinor(ctx context.Context, orderID uuid.UUID) (int64, error)
}

// ServiceParams wires the profit service.
type ServiceParams struct {
	Tx       txRunner
	Repo     Repository
	Outbox   outboxPublisher
	Comms    CommsCoster
	Settings settings.Provider
	Logger   *logger.Logger
	Now      func() time.Time
}

// Service computes and persists profit breakdowns.
type Service struct {
	tx       txRunner
	repo     Repository
	outbox   outboxPublisher
	comms    CommsCoster
	settings settings.Provider
	logg     *logger.Logger
	now      func() time.Time
}

// NewService validates params and builds the profit service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "profit repository required")
	}
	if params.Settings == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "settings provider required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		tx:       params.Tx,
		repo:     params.Repo,
		outbox:   params.Outbox,
		comms:    params.Comms,
		settings: params.Settings,
		logg:     params.Logger,
		now:      now,
	}, nil
}

// Compute recomputes the breakdown for a paid intent and overwrites any
// previous one. It is safe to call repeatedly as inputs change.
func (s *Service) Compute(ctx context.Context, paymentID uuid.UUID) (*models.ProfitBreakdown, error) {
	intent, err := s.repo.FindIntent(ctx, paymentID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment")
	}
	if intent.Status != enums.PaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "profit is only computed for paid payments").
			WithDetails(map[string]any{"status": intent.Status})
	}

	items, err := s.repo.ListOrderItems(ctx, intent.OrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order items")
	}
	offers, err := s.repo.ListOffers(ctx, productIDs(items))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load supplier offers")
	}
	cogs := ResolveCogs(items, offers)

	var comms int64
	if s.comms != nil {
		comms, err = s.comms.CommsCostMinor(ctx, intent.OrderID)
		if err != nil {
			return nil, err
		}
	}

	snap := s.settings.Current()
	gatewayFee, estimated := GatewayFee(intent, snap)
	inputs := Inputs{
		AmountPaidMinor: intent.AmountMinor,
		CogsMinor:       cogs.TotalMinor,
		GatewayFeeMinor: gatewayFee,
		CommsCostMinor:  comms,
		BaseFeeMinor:    snap.BaseFeeMinor,
	}
	mode := snap.ProfitMode
	if !mode.IsValid() {
		mode = enums.ProfitModeAccurate
	}
	lines, err := json.Marshal(cogs.Lines)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode cogs lines")
	}
	breakdown := &models.ProfitBreakdown{
		PaymentID:           intent.ID,
		OrderID:             intent.OrderID,
		AmountPaidMinor:     inputs.AmountPaidMinor,
		CogsMinor:           inputs.CogsMinor,
		GatewayFeeMinor:     inputs.GatewayFeeMinor,
		GatewayFeeEstimated: estimated,
		CommsCostMinor:      inputs.CommsCostMinor,
		BaseFeeMinor:        inputs.BaseFeeMinor,
		ProfitMinor:         Compute(mode, inputs),
		Mode:                mode,
		CogsFallbackUsed:    cogs.FallbackUsed,
		CogsLines:           datatypes.JSON(lines),
		ComputedAt:          s.now().UTC(),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).Upsert(ctx, breakdown); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store profit breakdown")
		}
		if s.outbox == nil {
			return nil
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventProfitComputed,
			AggregateType: enums.AggregatePaymentIntent,
			AggregateID:   intent.ID,
			DedupeKey:     breakdown.ComputedAt.Format(time.RFC3339Nano),
			Data:          ComputedEvent(breakdown),
			OccurredAt:    breakdown.ComputedAt,
		})
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithPaymentID(ctx, intent.ID.String())
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"profit_minor":       breakdown.ProfitMinor,
			"mode":               breakdown.Mode,
			"cogs_fallback_used": breakdown.CogsFallbackUsed,
			"fee_estimated":      breakdown.GatewayFeeEstimated,
		})
		if cogs.FallbackUsed {
			s.logg.Warn(logCtx, "profit computed with cogs fallback")
		} else {
			s.logg.Info(logCtx, "profit computed")
		}
	}
	return breakdown, nil
}

// GatewayFee prefers the provider-reported fee and otherwise estimates it
// from the schedule. The bool reports an estimate.
func GatewayFee(intent *models.PaymentIntent, snap settings.Snapshot) (int64, bool) {
	if intent.FeeMinor != nil {
		return *intent.FeeMinor, false
	}
	return snap.Fees.Estimate(intent.AmountMinor, isInternational(intent.ProviderPayload)), true
}

func isInternational(payload datatypes.JSON) bool {
	if len(payload) == 0 {
		return false
	}
	var charge gateway.ChargeData
	if err := json.Unmarshal(payload, &charge); err != nil {
		return false
	}
	country := strings.ToUpper(strings.TrimSpace(charge.Authorization.CountryCode))
	return country != "" && country != HomeCountry
}

// ComputedEvent converts a breakdown into its analytics payload.
func ComputedEvent(b *models.ProfitBreakdown) payloads.ProfitComputedEvent {
	return payloads.ProfitComputedEvent{
		PaymentID:           b.PaymentID,
		OrderID:             b.OrderID,
		AmountPaidMinor:     b.AmountPaidMinor,
		CogsMinor:           b.CogsMinor,
		GatewayFeeMinor:     b.GatewayFeeMinor,
		GatewayFeeEstimated: b.GatewayFeeEstimated,
		CommsCostMinor:      b.CommsCostMinor,
		BaseFeeMinor:        b.BaseFeeMinor,
		ProfitMinor:         b.ProfitMinor,
		Mode:                b.Mode,
		CogsFallbackUsed:    b.CogsFallbackUsed,
		ComputedAt:          b.ComputedAt,
	}
}

func productIDs(items []models.OrderItem) []uuid.UUID {
	seen := map[uuid.UUID]struct{}{}
	out := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		out = append(out, item.ProductID)
	}
	return out
}
