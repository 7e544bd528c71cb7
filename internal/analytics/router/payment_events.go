package router

import (
	"context"
	"fmt"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"github.com/google/uuid"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/types"
	"github.com/doncapon/yemisshop-sub004/internal/analytics/writer"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

// paymentEventHandler appends settlement facts to the payment timeline.
type paymentEventHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *paymentEventHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	row, err := buildPaymentEventRow(envelope, payload)
	if err != nil {
		return err
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type": envelope.EventType,
		"payment_id": row.PaymentID,
	})
	if err := h.writer.InsertPaymentEvent(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert payment event row", err)
		return err
	}
	h.logg.Debug(logCtx, "payment event row inserted")
	return nil
}

func buildPaymentEventRow(envelope types.Envelope, payload any) (types.PaymentEventRow, error) {
	row := types.PaymentEventRow{
		EventID:    envelope.EventID,
		EventType:  string(envelope.EventType),
		OccurredAt: envelope.OccurredAt.UTC(),
	}
	switch event := payload.(type) {
	case *payloads.PaymentPaidEvent:
		row.PaymentID = event.PaymentID.String()
		row.OrderID = nullUUID(event.OrderID)
		row.Reference = nullString(event.Reference)
		row.AmountMinor = cbigquery.NullInt64{Int64: event.AmountMinor, Valid: true}
		row.Detail = nullString(event.Source)
		if !event.PaidAt.IsZero() {
			row.OccurredAt = event.PaidAt.UTC()
		}
	case *payloads.PaymentFailedEvent:
		row.PaymentID = event.PaymentID.String()
		row.OrderID = nullUUID(event.OrderID)
		row.Reference = nullString(event.Reference)
		row.Detail = nullString(event.Reason)
	case *payloads.PaymentLateSuccessEvent:
		row.PaymentID = event.PaymentID.String()
		row.OrderID = nullUUID(event.OrderID)
		row.Reference = nullString(event.Reference)
		row.AmountMinor = cbigquery.NullInt64{Int64: event.AmountMinor, Valid: true}
		row.Detail = nullString(string(event.Status))
	case *payloads.PayoutTransferSentEvent:
		row.PaymentID = event.PaymentID.String()
		row.SupplierID = nullUUID(event.SupplierID)
		row.Reference = nullString(event.Reference)
		row.AmountMinor = cbigquery.NullInt64{Int64: event.AmountMinor, Valid: true}
		row.Detail = nullString(event.TransferCode)
	default:
		return types.PaymentEventRow{}, fmt.Errorf("invalid payload %T for %s", payload, envelope.EventType)
	}
	if row.OccurredAt.IsZero() {
		row.OccurredAt = time.Now().UTC()
	}
	raw, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.PaymentEventRow{}, fmt.Errorf("encode %s payload: %w", envelope.EventType, err)
	}
	row.Payload = raw
	return row, nil
}

func nullString(v string) cbigquery.NullString {
	return cbigquery.NullString{StringVal: v, Valid: v != ""}
}

func nullUUID(id uuid.UUID) cbigquery.NullString {
	if id == uuid.Nil {
		return cbigquery.NullString{}
	}
	return cbigquery.NullString{StringVal: id.String(), Valid: true}
}
