// Package dbtest opens throwaway SQLite databases that mirror the Postgres
// schema closely enough for repository and orchestration tests.
package dbtest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var schema = []string{
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		customer_email TEXT NOT NULL,
		currency TEXT NOT NULL DEFAULT 'NGN',
		total_minor INTEGER NOT NULL,
		service_fee_total_minor INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		paid_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		variant_id TEXT,
		title TEXT NOT NULL,
		unit_price_minor INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		line_total_minor INTEGER,
		chosen_supplier_id TEXT,
		chosen_supplier_unit_price_minor INTEGER,
		purchase_order_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE payment_intents (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		reference TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		fee_minor INTEGER,
		status TEXT NOT NULL DEFAULT 'pending',
		channel TEXT NOT NULL,
		authorization_url TEXT,
		split_plan TEXT,
		split_applied BOOLEAN NOT NULL DEFAULT 0,
		supplier_breakdown TEXT,
		provider_payload TEXT,
		failure_reason TEXT,
		expires_at DATETIME NOT NULL,
		paid_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payment_intents_reference ON payment_intents (reference)`,
	`CREATE TABLE finalization_events (
		id TEXT PRIMARY KEY,
		payment_intent_id TEXT NOT NULL,
		type TEXT NOT NULL,
		metadata TEXT,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_finalization_events_intent_type ON finalization_events (payment_intent_id, type)`,
	`CREATE TABLE order_service_fees (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		order_id TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		ratio TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_order_service_fees_payment ON order_service_fees (payment_id)`,
	`CREATE TABLE purchase_orders (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		supplier_order_ref TEXT NOT NULL,
		subtotal_minor INTEGER NOT NULL,
		supplier_amount_minor INTEGER NOT NULL,
		platform_fee_minor INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'created',
		funded_at DATETIME,
		paid_out_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_purchase_orders_order_supplier ON purchase_orders (order_id, supplier_id)`,
	`CREATE UNIQUE INDEX ux_purchase_orders_supplier_ref ON purchase_orders (supplier_order_ref)`,
	`CREATE TABLE purchase_order_ref_logs (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		supplier_order_ref TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_purchase_order_ref_logs_ref ON purchase_order_ref_logs (supplier_order_ref)`,
	`CREATE TABLE supplier_payment_allocations (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		purchase_order_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'held',
		paid_at DATETIME,
		note TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_allocations_payment_po ON supplier_payment_allocations (payment_id, purchase_order_id)`,
	`CREATE TABLE suppliers (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		bank_code TEXT,
		account_number TEXT,
		account_name TEXT,
		subaccount_code TEXT,
		recipient_code TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE supplier_offers (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		variant_id TEXT,
		price_minor INTEGER NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		in_stock BOOLEAN NOT NULL DEFAULT 1,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE supplier_ledger_entries (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL,
		type TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		reference_type TEXT NOT NULL,
		reference_id TEXT NOT NULL,
		note TEXT,
		metadata TEXT,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_supplier_ledger_reference ON supplier_ledger_entries (supplier_id, reference_type, reference_id, type)`,
	`CREATE TABLE payout_transfers (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		supplier_id TEXT NOT NULL,
		amount_minor INTEGER NOT NULL,
		reference TEXT NOT NULL,
		recipient_code TEXT,
		transfer_code TEXT,
		status TEXT NOT NULL,
		reason TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_payout_transfers_payment_supplier ON payout_transfers (payment_id, supplier_id)`,
	`CREATE TABLE profit_breakdowns (
		payment_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		amount_paid_minor INTEGER NOT NULL,
		cogs_minor INTEGER NOT NULL,
		gateway_fee_minor INTEGER NOT NULL,
		gateway_fee_estimated BOOLEAN NOT NULL,
		comms_cost_minor INTEGER NOT NULL,
		base_fee_minor INTEGER NOT NULL,
		profit_minor INTEGER NOT NULL,
		mode TEXT NOT NULL,
		cogs_fallback_used BOOLEAN NOT NULL,
		cogs_lines TEXT,
		computed_at DATETIME NOT NULL
	)`,
	`CREATE TABLE receipts (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL,
		number TEXT NOT NULL,
		snapshot TEXT NOT NULL,
		issued_at DATETIME NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_receipts_payment ON receipts (payment_id)`,
	`CREATE TABLE notification_logs (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		payment_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		recipient TEXT NOT NULL,
		channel TEXT NOT NULL DEFAULT 'email',
		cost_minor INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX ux_notification_logs_payment_kind_recipient ON notification_logs (payment_id, kind, recipient)`,
	`CREATE TABLE settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		dedupe_key TEXT,
		payload TEXT NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE UNIQUE INDEX ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id, dedupe_key)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME
	)`,
}

// Open returns a fresh in-memory database with the settlement schema. All
// access goes through a single connection so concurrent transactions queue
// instead of failing with SQLITE_LOCKED.
func Open(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		require.NoError(t, conn.Exec(stmt).Error)
	}
	return conn
}
