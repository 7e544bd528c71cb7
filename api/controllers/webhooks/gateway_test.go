package webhooks

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/doncapon/yemisshop-sub004/internal/verification"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
)

type fakeWebhookService struct {
	calls     int
	body      []byte
	signature string
	outcome   *verification.Outcome
	err       error
}

func (f *fakeWebhookService) HandleWebhook(_ context.Context, rawBody []byte, signature string) (*verification.Outcome, error) {
	f.calls++
	f.body = rawBody
	f.signature = signature
	if f.err != nil {
		return nil, f.err
	}
	return f.outcome, nil
}

func TestGatewayWebhookPassesRawBodyAndSignature(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"YS-1"}}`)
	svc := &fakeWebhookService{outcome: &verification.Outcome{Reference: "YS-1", Status: enums.PaymentStatusPaid, Transitioned: true}}
	handler := GatewayWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader(payload))
	req.Header.Set(gateway.SignatureHeader, gateway.Sign(payload, "whsec"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.calls != 1 {
		t.Fatalf("expected one call, got %d", svc.calls)
	}
	if !bytes.Equal(svc.body, payload) {
		t.Fatalf("body was altered: %s", svc.body)
	}
	if svc.signature != gateway.Sign(payload, "whsec") {
		t.Fatalf("unexpected signature %q", svc.signature)
	}
}

func TestGatewayWebhookRejectsBadSignature(t *testing.T) {
	svc := &fakeWebhookService{err: pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid gateway signature")}
	handler := GatewayWebhook(svc, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader([]byte(`{}`)))
	req.Header.Set(gateway.SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestGatewayWebhookAcknowledgesProcessingErrors(t *testing.T) {
	cases := map[string]error{
		"dependency": pkgerrors.New(pkgerrors.CodeDependency, "idempotency store unavailable"),
		"validation": pkgerrors.New(pkgerrors.CodeValidation, "decode event"),
		"untyped":    errors.New("boom"),
	}
	for name, err := range cases {
		t.Run(name, func(t *testing.T) {
			handler := GatewayWebhook(&fakeWebhookService{err: err}, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader([]byte(`{}`)))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
		})
	}
}

func TestGatewayWebhookRequiresService(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/gateway", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	GatewayWebhook(nil, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}
