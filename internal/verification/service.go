// Package verification confirms payments with the gateway, either by asking
// for a reference (pull) or by accepting a signed push notification.
package verification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/internal/finalization"
	"github.com/doncapon/yemisshop-sub004/internal/payments"
	"github.com/doncapon/yemisshop-sub004/pkg/db/models"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/metrics"
)

const (
	PathPull = "pull"
	PathPush = "push"
)

// Verifier looks a charge up at the gateway.
type Verifier interface {
	VerifyReference(ctx context.Context, reference string) (*gateway.Verification, error)
}

type paymentStore interface {
	MarkPaid(ctx context.Context, input payments.MarkPaidInput) (*payments.MarkPaidResult, error)
	MarkFailed(ctx context.Context, reference, reason string) (*models.PaymentIntent, error)
	GetByReference(ctx context.Context, reference string) (*models.PaymentIntent, error)
}

type finalizer interface {
	Finalize(ctx context.Context, paymentID uuid.UUID) (*finalization.Result, error)
}

type guard interface {
	CheckAndMark(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// ServiceParams wires the verification adapter. Guard is optional.
type ServiceParams struct {
	Gateway       Verifier
	Payments      paymentStore
	Finalizer     finalizer
	Guard         guard
	WebhookSecret string
	Metrics       *metrics.FinalizationMetrics
	Logger        *logger.Logger
}

// Service is the verification adapter for both confirmation paths.
type Service struct {
	gateway   Verifier
	payments  paymentStore
	finalizer finalizer
	guard     guard
	secret    string
	metrics   *metrics.FinalizationMetrics
	logg      *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway verifier required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment service required")
	}
	if params.Finalizer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "finalizer required")
	}
	if strings.TrimSpace(params.WebhookSecret) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook secret required")
	}
	return &Service{
		gateway:   params.Gateway,
		payments:  params.Payments,
		finalizer: params.Finalizer,
		guard:     params.Guard,
		secret:    params.WebhookSecret,
		metrics:   params.Metrics,
		logg:      params.Logger,
	}, nil
}

// Outcome is the definite answer of a verification. Status is always PAID,
// FAILED or PENDING.
type Outcome struct {
	Reference    string
	PaymentID    uuid.UUID
	Status       enums.PaymentStatus
	Transitioned bool
	Duplicate    bool
	Ignored      bool
	Finalization *finalization.Result
}

// MapGatewayStatus reduces a gateway charge status to the three answers a
// caller can act on.
func MapGatewayStatus(status string) enums.PaymentStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return enums.PaymentStatusPaid
	case "failed", "abandoned", "reversed":
		return enums.PaymentStatusFailed
	default:
		return enums.PaymentStatusPending
	}
}

// VerifyByReference asks the gateway about reference and applies the answer.
// Gateway or lookup trouble leaves the intent untouched and reports PENDING.
// Only an unknown reference is an error.
func (s *Service) VerifyByReference(ctx context.Context, reference string) (*Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	ctx = s.withReference(ctx, reference)

	intent, err := s.payments.GetByReference(ctx, reference)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, err
		}
		s.warn(ctx, "payment lookup failed; answering pending", err)
		s.metrics.IncVerification(PathPull, string(enums.PaymentStatusPending))
		return &Outcome{Reference: reference, Status: enums.PaymentStatusPending}, nil
	}
	out := &Outcome{Reference: reference, PaymentID: intent.ID, Status: enums.PaymentStatusPending}

	v, err := s.gateway.VerifyReference(ctx, reference)
	if err != nil {
		s.warn(ctx, "gateway verification unavailable; payment left pending", err)
		s.metrics.IncVerification(PathPull, string(out.Status))
		return out, nil
	}

	switch MapGatewayStatus(v.Status) {
	case enums.PaymentStatusPaid:
		_ = s.settlePaid(ctx, out, paidInput(v, payments.SourcePull))
	case enums.PaymentStatusFailed:
		failed, err := s.payments.MarkFailed(ctx, reference, "gateway status: "+v.Status)
		if err != nil {
			s.logError(ctx, "mark payment failed", err)
			break
		}
		out.Status = enums.PaymentStatusFailed
		if failed.Status == enums.PaymentStatusPaid {
			out.Status = enums.PaymentStatusPaid
		}
	}
	s.metrics.IncVerification(PathPull, string(out.Status))
	return out, nil
}

// HandleWebhook authenticates a push notification over the exact bytes
// received and applies charge.success. Nothing is read or written before the
// signature checks out.
func (s *Service) HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*Outcome, error) {
	if !gateway.ValidSignature(rawBody, s.secret, signature) {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid webhook signature")
	}
	event, err := gateway.ParseEvent(rawBody)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook event")
	}
	if event.Event != gateway.EventChargeSuccess {
		if s.logg != nil {
			s.logg.Info(s.logg.WithField(ctx, "event", event.Event), "webhook event ignored")
		}
		return &Outcome{Ignored: true, Status: enums.PaymentStatusPending}, nil
	}
	charge, err := event.Charge()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook charge")
	}
	ctx = s.withReference(ctx, charge.Reference)
	out := &Outcome{Reference: charge.Reference, Status: enums.PaymentStatusPending}

	key := event.Event + ":" + charge.Reference
	if s.guard != nil {
		seen, err := s.guard.CheckAndMark(ctx, key)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook idempotency check")
		}
		if seen {
			out.Duplicate = true
			s.info(ctx, "webhook already processed")
			return out, nil
		}
	}

	v := charge.Verification()
	v.Raw = event.Data
	if err := s.settlePaid(ctx, out, paidInput(v, payments.SourcePush)); err != nil && s.guard != nil {
		if relErr := s.guard.Release(ctx, key); relErr != nil {
			s.logError(ctx, "release webhook idempotency key", relErr)
		}
	}
	s.metrics.IncVerification(PathPush, string(out.Status))
	return out, nil
}

// settlePaid runs MarkPaid then Finalize and fills out. The returned error
// only tells the caller whether a redelivery should be allowed to retry.
func (s *Service) settlePaid(ctx context.Context, out *Outcome, input payments.MarkPaidInput) error {
	res, err := s.payments.MarkPaid(ctx, input)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			out.Status = enums.PaymentStatusFailed
			s.warn(ctx, "late success on a terminal intent", err)
			return nil
		}
		s.logError(ctx, "mark payment paid", err)
		return err
	}
	out.PaymentID = res.Intent.ID
	out.Status = enums.PaymentStatusPaid
	out.Transitioned = res.Transitioned

	fin, err := s.finalizer.Finalize(ctx, res.Intent.ID)
	if err != nil {
		s.logError(ctx, "finalize after verification", err)
		return err
	}
	out.Finalization = fin
	return nil
}

func paidInput(v *gateway.Verification, source payments.Source) payments.MarkPaidInput {
	input := payments.MarkPaidInput{
		Reference:   v.Reference,
		AmountMinor: v.AmountMinor,
		FeeMinor:    v.FeeMinor,
		Channel:     v.Channel,
		Payload:     v.Raw,
		Source:      source,
	}
	if v.PaidAt != nil {
		input.PaidAt = *v.PaidAt
	} else {
		input.PaidAt = time.Now().UTC()
	}
	return input
}

func (s *Service) withReference(ctx context.Context, reference string) context.Context {
	if s.logg == nil {
		return ctx
	}
	return s.logg.WithReference(ctx, reference)
}

func (s *Service) info(ctx context.Context, msg string) {
	if s.logg != nil {
		s.logg.Info(ctx, msg)
	}
}

func (s *Service) warn(ctx context.Context, msg string, err error) {
	if s.logg == nil {
		return
	}
	s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), msg)
}

func (s *Service) logError(ctx context.Context, msg string, err error) {
	if s.logg != nil {
		s.logg.Error(ctx, msg, err)
	}
}
