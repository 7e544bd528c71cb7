package router

import (
	"context"
	"fmt"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/types"
	"github.com/doncapon/yemisshop-sub004/internal/analytics/writer"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/payloads"
)

// profitComputedHandler writes one profit_breakdowns row per snapshot.
type profitComputedHandler struct {
	writer Writer
	logg   *logger.Logger
}

func (h *profitComputedHandler) Handle(ctx context.Context, envelope types.Envelope, payload any) error {
	event, ok := payload.(*payloads.ProfitComputedEvent)
	if !ok {
		return fmt.Errorf("invalid payload %T for profit_computed", payload)
	}
	logCtx := h.logg.WithFields(ctx, map[string]any{
		"event_type":   envelope.EventType,
		"payment_id":   event.PaymentID,
		"order_id":     event.OrderID,
		"profit_minor": event.ProfitMinor,
		"mode":         event.Mode,
	})

	row, err := buildProfitRow(envelope, event)
	if err != nil {
		h.logg.Error(logCtx, "failed to build profit row", err)
		return err
	}
	if err := h.writer.InsertProfit(logCtx, row); err != nil {
		h.logg.Error(logCtx, "failed to insert profit row", err)
		return err
	}

	h.logg.Info(logCtx, "profit row inserted")
	return nil
}

func buildProfitRow(envelope types.Envelope, event *payloads.ProfitComputedEvent) (types.ProfitRow, error) {
	raw, err := writer.EncodeJSON(envelope.Payload)
	if err != nil {
		return types.ProfitRow{}, fmt.Errorf("encode profit payload: %w", err)
	}
	computedAt := event.ComputedAt.UTC()
	if computedAt.IsZero() {
		computedAt = envelope.OccurredAt.UTC()
	}
	return types.ProfitRow{
		EventID:             envelope.EventID,
		ComputedAt:          computedAt,
		PaymentID:           event.PaymentID.String(),
		OrderID:             event.OrderID.String(),
		Mode:                event.Mode.String(),
		AmountPaidMinor:     event.AmountPaidMinor,
		CogsMinor:           event.CogsMinor,
		GatewayFeeMinor:     event.GatewayFeeMinor,
		GatewayFeeEstimated: event.GatewayFeeEstimated,
		CommsCostMinor:      event.CommsCostMinor,
		BaseFeeMinor:        event.BaseFeeMinor,
		ProfitMinor:         event.ProfitMinor,
		CogsFallbackUsed:    event.CogsFallbackUsed,
		Payload:             raw,
	}, nil
}
