package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// ProfitRow mirrors the profit_breakdowns BigQuery schema. One row is written
// per computation; readers take the latest computed_at per payment.
type ProfitRow struct {
	EventID             string             `bigquery:"event_id"`
	ComputedAt          time.Time          `bigquery:"computed_at"`
	PaymentID           string             `bigquery:"payment_id"`
	OrderID             string             `bigquery:"order_id"`
	Mode                string             `bigquery:"mode"`
	AmountPaidMinor     int64              `bigquery:"amount_paid_minor"`
	CogsMinor           int64              `bigquery:"cogs_minor"`
	GatewayFeeMinor     int64              `bigquery:"gateway_fee_minor"`
	GatewayFeeEstimated bool               `bigquery:"gateway_fee_estimated"`
	CommsCostMinor      int64              `bigquery:"comms_cost_minor"`
	BaseFeeMinor        int64              `bigquery:"base_fee_minor"`
	ProfitMinor         int64              `bigquery:"profit_minor"`
	CogsFallbackUsed    bool               `bigquery:"cogs_fallback_used"`
	Payload             cbigquery.NullJSON `bigquery:"payload"`
}

// PaymentEventRow is one entry of the payment_events settlement timeline.
// Columns that only some event types carry are nullable.
type PaymentEventRow struct {
	EventID     string               `bigquery:"event_id"`
	EventType   string               `bigquery:"event_type"`
	OccurredAt  time.Time            `bigquery:"occurred_at"`
	PaymentID   string               `bigquery:"payment_id"`
	OrderID     cbigquery.NullString `bigquery:"order_id"`
	SupplierID  cbigquery.NullString `bigquery:"supplier_id"`
	Reference   cbigquery.NullString `bigquery:"reference"`
	AmountMinor cbigquery.NullInt64  `bigquery:"amount_minor"`
	Detail      cbigquery.NullString `bigquery:"detail"`
	Payload     cbigquery.NullJSON   `bigquery:"payload"`
}
