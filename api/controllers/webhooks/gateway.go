package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/doncapon/yemisshop-sub004/api/responses"
	"github.com/doncapon/yemisshop-sub004/internal/verification"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
)

const maxWebhookBody = 1 << 20

type GatewayWebhookService interface {
	HandleWebhook(ctx context.Context, rawBody []byte, signature string) (*verification.Outcome, error)
}

// GatewayWebhook authenticates and applies gateway push events. Only a bad
// signature is rejected; once the sender is authenticated every outcome is
// acknowledged so the gateway stops retrying, and failures are left to the
// pull path and the finalization sweep.
func GatewayWebhook(svc GatewayWebhookService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		outcome, err := svc.HandleWebhook(ctx, payload, r.Header.Get(gateway.SignatureHeader))
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized) {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if logg != nil {
				logg.Error(ctx, "gateway webhook processing failed", err)
			}
			responses.WriteSuccess(w, map[string]any{"received": true})
			return
		}

		if logg != nil {
			logCtx := logg.WithFields(ctx, map[string]any{
				"reference":    outcome.Reference,
				"status":       outcome.Status,
				"transitioned": outcome.Transitioned,
				"duplicate":    outcome.Duplicate,
				"ignored":      outcome.Ignored,
			})
			logg.Info(logCtx, "gateway webhook processed")
		}
		responses.WriteSuccess(w, map[string]any{"received": true})
	}
}
