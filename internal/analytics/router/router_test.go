package router

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/types"
	"github.com/doncapon/yemisshop-sub004/pkg/enums"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/registry"
)

func TestRouterUnsupportedEvent(t *testing.T) {
	router := newTestRouter(t, &fakeWriter{}, nil)
	env := types.Envelope{
		EventType: enums.EventNotificationRequested,
		Payload:   []byte(`{"kind":"receipt"}`),
	}
	err := router.Handle(context.Background(), env)
	if !errors.Is(err, ErrUnsupportedEventType) {
		t.Fatalf("expected unsupported error, got %v", err)
	}
}

func TestRouterRoutesToOverride(t *testing.T) {
	handler := &stubHandler{}
	router := newTestRouter(t, &fakeWriter{}, map[enums.OutboxEventType]Handler{
		enums.EventProfitComputed: handler,
	})
	data, _ := json.Marshal(payloads.ProfitComputedEvent{PaymentID: uuid.New()})
	env := types.Envelope{
		EventType: enums.EventProfitComputed,
		Payload:   data,
	}
	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handler.called {
		t.Fatalf("handler not invoked")
	}
}

func TestRouterRejectsEmptyPayload(t *testing.T) {
	router := newTestRouter(t, &fakeWriter{}, nil)
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventProfitComputed})
	if err == nil {
		t.Fatal("expected error for empty payload")
	}
}

func TestProfitComputedHandlerWritesRow(t *testing.T) {
	writer := &fakeWriter{}
	router := newTestRouter(t, writer, nil)

	paymentID := uuidFromString(t, "00000000-0000-0000-0000-000000000011")
	orderID := uuidFromString(t, "00000000-0000-0000-0000-000000000022")
	computedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	event := payloads.ProfitComputedEvent{
		PaymentID:           paymentID,
		OrderID:             orderID,
		AmountPaidMinor:     3000,
		CogsMinor:           2500,
		GatewayFeeMinor:     45,
		GatewayFeeEstimated: false,
		CommsCostMinor:      10,
		BaseFeeMinor:        50,
		ProfitMinor:         395,
		Mode:                enums.ProfitModeAccurate,
		ComputedAt:          computedAt,
	}
	data, _ := json.Marshal(event)
	env := types.Envelope{
		EventID:   "evt-1",
		EventType: enums.EventProfitComputed,
		Payload:   data,
	}

	if err := router.Handle(context.Background(), env); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(writer.inserted) != 1 {
		t.Fatalf("expected one row, got %d", len(writer.inserted))
	}
	row := writer.inserted[0]
	if row.EventID != "evt-1" || row.PaymentID != paymentID.String() || row.OrderID != orderID.String() {
		t.Fatalf("unexpected identifiers: %+v", row)
	}
	if row.ProfitMinor != 395 || row.CogsMinor != 2500 || row.GatewayFeeMinor != 45 {
		t.Fatalf("unexpected amounts: %+v", row)
	}
	if row.Mode != "accurate" {
		t.Fatalf("unexpected mode %q", row.Mode)
	}
	if !row.ComputedAt.Equal(computedAt) {
		t.Fatalf("unexpected computed_at %s", row.ComputedAt)
	}
	if !row.Payload.Valid {
		t.Fatal("expected raw payload to be kept")
	}
}

func TestProfitComputedHandlerFallsBackToOccurredAt(t *testing.T) {
	writer := &fakeWriter{}
	router := newTestRouter(t, writer, nil)
	occurred := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	data, _ := json.Marshal(payloads.ProfitComputedEvent{PaymentID: uuid.New(), OrderID: uuid.New()})

	err := router.Handle(context.Background(), types.Envelope{
		EventID:    "evt-2",
		EventType:  enums.EventProfitComputed,
		OccurredAt: occurred,
		Payload:    data,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !writer.inserted[0].ComputedAt.Equal(occurred) {
		t.Fatalf("expected occurred_at fallback, got %s", writer.inserted[0].ComputedAt)
	}
}

func TestProfitComputedHandlerPropagatesWriterError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bigquery unavailable")}
	router := newTestRouter(t, writer, nil)
	data, _ := json.Marshal(payloads.ProfitComputedEvent{PaymentID: uuid.New()})

	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventProfitComputed, Payload: data})
	if err == nil {
		t.Fatal("expected writer error")
	}
}

func TestPaymentTimelineRows(t *testing.T) {
	paymentID, orderID, supplierID := uuid.New(), uuid.New(), uuid.New()
	paidAt := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	occurred := time.Date(2026, 3, 1, 9, 31, 0, 0, time.UTC)

	cases := []struct {
		name  string
		event enums.OutboxEventType
		body  any
		check func(t *testing.T, row types.PaymentEventRow)
	}{
		{
			name:  "paid",
			event: enums.EventPaymentPaid,
			body:  payloads.PaymentPaidEvent{PaymentID: paymentID, OrderID: orderID, Reference: "PAY-1", AmountMinor: 5000, Source: "webhook", PaidAt: paidAt},
			check: func(t *testing.T, row types.PaymentEventRow) {
				if !row.OccurredAt.Equal(paidAt) || row.AmountMinor.Int64 != 5000 || row.Detail.StringVal != "webhook" {
					t.Fatalf("unexpected paid row %+v", row)
				}
				if row.OrderID.StringVal != orderID.String() || row.SupplierID.Valid {
					t.Fatalf("unexpected ids %+v", row)
				}
			},
		},
		{
			name:  "failed",
			event: enums.EventPaymentFailed,
			body:  payloads.PaymentFailedEvent{PaymentID: paymentID, OrderID: orderID, Reference: "PAY-1"},
			check: func(t *testing.T, row types.PaymentEventRow) {
				if row.AmountMinor.Valid || row.Detail.Valid || !row.OccurredAt.Equal(occurred) {
					t.Fatalf("unexpected failed row %+v", row)
				}
			},
		},
		{
			name:  "late success",
			event: enums.EventPaymentLateSuccess,
			body:  payloads.PaymentLateSuccessEvent{PaymentID: paymentID, OrderID: orderID, Status: enums.PaymentStatusCanceled, AmountMinor: 700},
			check: func(t *testing.T, row types.PaymentEventRow) {
				if row.Detail.StringVal != string(enums.PaymentStatusCanceled) || row.AmountMinor.Int64 != 700 {
					t.Fatalf("unexpected late success row %+v", row)
				}
			},
		},
		{
			name:  "payout",
			event: enums.EventPayoutTransferSent,
			body:  payloads.PayoutTransferSentEvent{PaymentID: paymentID, SupplierID: supplierID, AmountMinor: 4200, TransferCode: "TRF_1"},
			check: func(t *testing.T, row types.PaymentEventRow) {
				if row.SupplierID.StringVal != supplierID.String() || row.OrderID.Valid || row.Detail.StringVal != "TRF_1" {
					t.Fatalf("unexpected payout row %+v", row)
				}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			writer := &fakeWriter{}
			router := newTestRouter(t, writer, nil)
			data, _ := json.Marshal(tc.body)
			err := router.Handle(context.Background(), types.Envelope{
				EventID:    "evt-" + tc.name,
				EventType:  tc.event,
				Version:    1,
				OccurredAt: occurred,
				Payload:    data,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(writer.events) != 1 {
				t.Fatalf("expected one timeline row, got %d", len(writer.events))
			}
			row := writer.events[0]
			if row.EventID != "evt-"+tc.name || row.EventType != string(tc.event) || row.PaymentID != paymentID.String() {
				t.Fatalf("unexpected identity %+v", row)
			}
			if !row.Payload.Valid {
				t.Fatal("expected raw payload to be kept")
			}
			tc.check(t, row)
		})
	}
}

func TestRouterRejectsUnknownSchemaVersion(t *testing.T) {
	router := newTestRouter(t, &fakeWriter{}, nil)
	data, _ := json.Marshal(payloads.ProfitComputedEvent{PaymentID: uuid.New()})
	err := router.Handle(context.Background(), types.Envelope{EventType: enums.EventProfitComputed, Version: 9, Payload: data})
	if !errors.Is(err, registry.ErrNoDecoder) {
		t.Fatalf("expected ErrNoDecoder, got %v", err)
	}
}

func newTestRouter(t *testing.T, writer Writer, overrides map[enums.OutboxEventType]Handler) *Router {
	t.Helper()
	router, err := NewRouter(writer, logger.New(logger.Options{ServiceName: "router-test"}), overrides)
	if err != nil {
		t.Fatalf("construct router: %v", err)
	}
	return router
}

type stubHandler struct {
	called bool
}

func (s *stubHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	s.called = true
	return nil
}

func uuidFromString(t *testing.T, value string) uuid.UUID {
	t.Helper()
	id, err := uuid.Parse(value)
	if err != nil {
		t.Fatalf("parse uuid: %v", err)
	}
	return id
}
