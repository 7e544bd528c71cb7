package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/internal/payments"
	"github.com/doncapon/yemisshop-sub004/internal/verification"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"

	"github.com/doncapon/yemisshop-sub004/api/responses"
	"github.com/doncapon/yemisshop-sub004/api/validators"
)

type CheckoutInitializer interface {
	InitializeCheckout(ctx context.Context, input payments.CheckoutInput) (*payments.CheckoutSession, error)
}

type ReferenceVerifier interface {
	VerifyByReference(ctx context.Context, reference string) (*verification.Outcome, error)
}

type initializePaymentRequest struct {
	Channel     string `json:"channel" validate:"required,payment_channel"`
	Email       string `json:"email" validate:"omitempty,email,max=254"`
	CallbackURL string `json:"callback_url" validate:"omitempty,url,max=512"`
}

func (r *initializePaymentRequest) Normalize() {
	r.Channel = strings.ToLower(strings.TrimSpace(r.Channel))
	r.Email = strings.TrimSpace(r.Email)
	r.CallbackURL = strings.TrimSpace(r.CallbackURL)
}

// PaymentIntentResponse is the public view of a payment intent.
type PaymentIntentResponse struct {
	ID            uuid.UUID  `json:"id"`
	OrderID       uuid.UUID  `json:"order_id"`
	Reference     string     `json:"reference"`
	AmountMinor   int64      `json:"amount_minor"`
	Status        string     `json:"status"`
	Channel       string     `json:"channel"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time  `json:"expires_at"`
	PaidAt        *time.Time `json:"paid_at,omitempty"`
}

type initializePaymentResponse struct {
	Payment          PaymentIntentResponse `json:"payment"`
	AuthorizationURL string                `json:"authorization_url"`
	SplitApplied     bool                  `json:"split_applied"`
	Resumed          bool                  `json:"resumed"`
}

type verifyPaymentResponse struct {
	Reference    string     `json:"reference"`
	PaymentID    *uuid.UUID `json:"payment_id,omitempty"`
	Status       string     `json:"status"`
	Transitioned bool       `json:"transitioned"`
	Finalized    bool       `json:"finalized"`
	Failures     []string   `json:"failed_effects,omitempty"`
}

// InitializePayment starts or resumes hosted checkout for an order.
func InitializePayment(svc CheckoutInitializer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		orderID, err := parseUUIDParam(r, "orderId", "order")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var body initializePaymentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		channel, err := enums.ParsePaymentChannel(body.Channel)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid channel"))
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithOrderID(ctx, orderID.String())
		}
		session, err := svc.InitializeCheckout(ctx, payments.CheckoutInput{
			OrderID:     orderID,
			Channel:     channel,
			Email:       validators.SanitizeString(body.Email, 254),
			CallbackURL: validators.SanitizeString(body.CallbackURL, 512),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		status := http.StatusCreated
		if session.Resumed {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, initializePaymentResponse{
			Payment:          toPaymentIntentResponse(session.Intent),
			AuthorizationURL: session.AuthorizationURL,
			SplitApplied:     session.SplitApplied,
			Resumed:          session.Resumed,
		})
	}
}

// VerifyPayment checks a reference with the gateway and settles it when paid.
// A gateway outage answers PENDING rather than an error.
func VerifyPayment(svc ReferenceVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "verification service unavailable"))
			return
		}

		reference, err := validators.Reference(chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.VerifyByReference(r.Context(), reference)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toVerifyPaymentResponse(outcome))
	}
}

func toPaymentIntentResponse(intent *models.PaymentIntent) PaymentIntentResponse {
	if intent == nil {
		return PaymentIntentResponse{}
	}
	return PaymentIntentResponse{
		ID:            intent.ID,
		OrderID:       intent.OrderID,
		Reference:     intent.Reference,
		AmountMinor:   intent.AmountMinor,
		Status:        string(intent.Status),
		Channel:       string(intent.Channel),
		FailureReason: intent.FailureReason,
		ExpiresAt:     intent.ExpiresAt,
		PaidAt:        intent.PaidAt,
	}
}

func toVerifyPaymentResponse(outcome *verification.Outcome) verifyPaymentResponse {
	resp := verifyPaymentResponse{
		Reference:    outcome.Reference,
		Status:       string(outcome.Status),
		Transitioned: outcome.Transitioned,
	}
	if outcome.PaymentID != uuid.Nil {
		id := outcome.PaymentID
		resp.PaymentID = &id
	}
	if outcome.Finalization != nil {
		resp.Finalized = outcome.Finalization.Err == nil
		resp.Failures = outcome.Finalization.Failed()
	}
	return resp
}

func parseUUIDParam(r *http.Request, param, label string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, label+" id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+label+" id")
	}
	return id, nil
}
