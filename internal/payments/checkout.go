package payments

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
)

// Charger opens a hosted checkout at the gateway.
type Charger interface {
	InitializeCharge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeSession, error)
}

// SplitPlanner builds the gateway split for an order. A nil plan means the
// order cannot be split and the platform collects the whole charge.
type SplitPlanner interface {
	BuildSplitPlan(ctx context.Context, orderID uuid.UUID) (*gateway.SplitPlan, error)
}

// CheckoutInput starts or resumes payment for an order.
type CheckoutInput struct {
	OrderID     uuid.UUID
	Channel     enums.PaymentChannel
	Email       string
	CallbackURL string
}

// CheckoutSession is what the customer needs to complete payment.
type CheckoutSession struct {
	Intent           *models.PaymentIntent
	AuthorizationURL string
	SplitApplied     bool
	Resumed          bool
}

func (s *service) InitializeCheckout(ctx context.Context, input CheckoutInput) (*CheckoutSession, error) {
	if s.charger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway charger not configured")
	}
	res, err := s.CreateIntent(ctx, input.OrderID, input.Channel)
	if err != nil {
		return nil, err
	}
	intent := res.Intent
	if res.Resumed && intent.AuthorizationURL != nil && *intent.AuthorizationURL != "" {
		return &CheckoutSession{
			Intent:           intent,
			AuthorizationURL: *intent.AuthorizationURL,
			SplitApplied:     intent.SplitApplied,
			Resumed:          true,
		}, nil
	}

	plan, err := s.buildSplitPlan(ctx, intent)
	if err != nil {
		return nil, err
	}
	applied := plan != nil && s.splitEnabled()
	var charged *gateway.SplitPlan
	if applied {
		charged = plan
	}

	email := strings.TrimSpace(input.Email)
	if email == "" && res.Order != nil {
		email = res.Order.CustomerEmail
	}
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer email required")
	}
	callback := strings.TrimSpace(input.CallbackURL)
	if callback == "" {
		callback = s.callbackURL
	}
	currency := s.currency
	if res.Order != nil && res.Order.Currency != "" {
		currency = res.Order.Currency
	}

	session, err := s.charger.InitializeCharge(ctx, gateway.ChargeRequest{
		Email:       email,
		AmountMinor: intent.AmountMinor,
		Reference:   intent.Reference,
		Currency:    currency,
		CallbackURL: callback,
		Channels:    []string{string(intent.Channel)},
		Split:       charged,
		Metadata: map[string]any{
			"order_id":   intent.OrderID.String(),
			"payment_id": intent.ID.String(),
		},
	})
	if err != nil {
		return nil, err
	}

	var planJSON []byte
	if plan != nil {
		planJSON, err = json.Marshal(plan)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode split plan")
		}
	}
	if err := s.repo.AttachCheckout(ctx, intent.ID, session.AuthorizationURL, planJSON, applied); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store checkout session")
	}
	url := session.AuthorizationURL
	intent.AuthorizationURL = &url
	intent.SplitApplied = applied
	intent.SplitPlan = planJSON

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id":    intent.ID.String(),
			"reference":     intent.Reference,
			"split_planned": plan != nil,
			"split_applied": applied,
		})
		s.logg.Info(logCtx, "checkout initialized")
	}
	return &CheckoutSession{
		Intent:           intent,
		AuthorizationURL: url,
		SplitApplied:     applied,
		Resumed:          res.Resumed,
	}, nil
}

// buildSplitPlan computes the split even when the flag withholds it. A planning
// failure only blocks checkout when the split would be applied.
func (s *service) buildSplitPlan(ctx context.Context, intent *models.PaymentIntent) (*gateway.SplitPlan, error) {
	if s.splits == nil {
		return nil, nil
	}
	plan, err := s.splits.BuildSplitPlan(ctx, intent.OrderID)
	if err == nil {
		return plan, nil
	}
	if s.splitEnabled() {
		return nil, err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"payment_id": intent.ID.String(),
			"error":      err.Error(),
		})
		s.logg.Warn(logCtx, "withheld split plan failed")
	}
	return nil, nil
}
