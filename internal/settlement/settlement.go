// Package settlement assembles the payment settlement services shared by the
// api, worker and cron binaries.
package settlement

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/doncapon/yemisshop-sub004/internal/allocations"
	"github.com/doncapon/yemisshop-sub004/internal/finalization"
	"github.com/doncapon/yemisshop-sub004/internal/ledger"
	"github.com/doncapon/yemisshop-sub004/internal/notifications"
	"github.com/doncapon/yemisshop-sub004/internal/payments"
	"github.com/doncapon/yemisshop-sub004/internal/payouts"
	"github.com/doncapon/yemisshop-sub004/internal/profit"
	"github.com/doncapon/yemisshop-sub004/internal/purchaseorders"
	"github.com/doncapon/yemisshop-sub004/internal/receipts"
	"github.com/doncapon/yemisshop-sub004/internal/references"
	"github.com/doncapon/yemisshop-sub004/internal/settings"
	"github.com/doncapon/yemisshop-sub004/internal/verification"
	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	pkgerrors "github.com/doncapon/yemisshop-sub004/pkg/errors"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/metrics"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/redis"
)

const (
	webhookGuardTTL   = 72 * time.Hour
	webhookGuardScope = "gateway-webhook"
)

// Gateway is the subset of the gateway client the services call.
type Gateway interface {
	payments.Charger
	payouts.Transferer
	verification.Verifier
}

// Params configure Build. Idempotency is optional; without it webhook
// redeliveries are absorbed by the payment state machine alone.
type Params struct {
	Config      *config.Config
	DB          *db.Client
	Gateway     Gateway
	Idempotency redis.IdempotencyStore
	Registerer  prometheus.Registerer
	Logger      *logger.Logger
}

// Services is the wired settlement graph.
type Services struct {
	Settings      *settings.Store
	Outbox        *outbox.Service
	Payments      payments.Service
	Allocations   *allocations.Service
	Notifications notifications.Service
	Payouts       *payouts.Service
	Receipts      *receipts.Service
	Profit        *profit.Service
	Finalization  *finalization.Service
	Verification  *verification.Service
	Metrics       *metrics.FinalizationMetrics
}

// Build wires every settlement service over one database client. The
// settings snapshot is loaded once; a failed load keeps the env defaults.
func Build(ctx context.Context, params Params) (*Services, error) {
	if params.Config == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "config required")
	}
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db client required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway client required")
	}
	cfg := params.Config
	logg := params.Logger
	conn := params.DB.DB()

	defaults, err := settings.Defaults(cfg.Fees, cfg.FeatureFlags)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settings defaults")
	}
	store := settings.NewStore(conn, defaults, logg)
	if _, err := store.Refresh(ctx); err != nil && logg != nil {
		logg.Warn(ctx, "settings table unavailable, using environment defaults")
	}

	refs := references.NewGenerator()
	ob := outbox.NewService(outbox.NewRepository(conn), logg)
	finalizationMetrics := metrics.NewFinalizationMetrics(params.Registerer)

	payoutSvc, err := payouts.NewService(payouts.ServiceParams{
		Tx:         params.DB,
		Repo:       payouts.NewRepository(conn),
		Gateway:    params.Gateway,
		Outbox:     ob,
		References: refs,
		Logger:     logg,
		Currency:   cfg.Gateway.Currency,
	})
	if err != nil {
		return nil, err
	}

	paymentSvc, err := payments.NewService(payments.ServiceParams{
		Tx:                params.DB,
		Repo:              payments.NewRepository(conn),
		Outbox:            ob,
		References:        refs,
		Charger:           params.Gateway,
		Splits:            payoutSvc,
		SplitEnabled:      func() bool { return store.Current().SplitEnabled },
		Logger:            logg,
		IntentTTL:         cfg.Payments.IntentTTL,
		ReferenceAttempts: cfg.Payments.ReferenceAttempts,
		Currency:          cfg.Gateway.Currency,
		CallbackURL:       cfg.Gateway.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	fanOut, err := purchaseorders.NewService(purchaseorders.NewRepository(conn), refs, cfg.Payments.ReferenceAttempts)
	if err != nil {
		return nil, err
	}
	allocSvc, err := allocations.NewService(allocations.ServiceParams{
		Tx:         params.DB,
		Repo:       allocations.NewRepository(conn),
		LedgerRepo: ledger.NewRepository(conn),
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	notifier, err := notifications.NewService(notifications.ServiceParams{
		Tx:       params.DB,
		Repo:     notifications.NewRepository(conn),
		Outbox:   ob,
		Settings: store,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}
	receiptSvc, err := receipts.NewService(receipts.ServiceParams{
		Tx:         params.DB,
		Repo:       receipts.NewRepository(conn),
		References: refs,
		Attempts:   cfg.Payments.ReferenceAttempts,
		Logger:     logg,
	})
	if err != nil {
		return nil, err
	}
	profitSvc, err := profit.NewService(profit.ServiceParams{
		Tx:       params.DB,
		Repo:     profit.NewRepository(conn),
		Outbox:   ob,
		Comms:    notifier,
		Settings: store,
		Logger:   logg,
	})
	if err != nil {
		return nil, err
	}

	finalizer, err := finalization.NewService(finalization.ServiceParams{
		Tx:          params.DB,
		Store:       finalization.NewStore(conn),
		FanOut:      fanOut,
		Allocations: allocSvc,
		Notifier:    notifier,
		Payouts:     payoutSvc,
		Receipts:    receiptSvc,
		Profit:      profitSvc,
		Metrics:     finalizationMetrics,
		Logger:      logg,
	})
	if err != nil {
		return nil, err
	}

	services := &Services{
		Settings:      store,
		Outbox:        ob,
		Payments:      paymentSvc,
		Allocations:   allocSvc,
		Notifications: notifier,
		Payouts:       payoutSvc,
		Receipts:      receiptSvc,
		Profit:        profitSvc,
		Finalization:  finalizer,
		Metrics:       finalizationMetrics,
	}

	// The verification adapter needs the webhook secret; binaries that only
	// finalize or sweep run without it.
	if cfg.Gateway.WebhookSecret == "" {
		return services, nil
	}
	verifyParams := verification.ServiceParams{
		Gateway:       params.Gateway,
		Payments:      paymentSvc,
		Finalizer:     finalizer,
		WebhookSecret: cfg.Gateway.WebhookSecret,
		Metrics:       finalizationMetrics,
		Logger:        logg,
	}
	if params.Idempotency != nil {
		guard, err := verification.NewIdempotencyGuard(params.Idempotency, webhookGuardTTL, webhookGuardScope)
		if err != nil {
			return nil, err
		}
		verifyParams.Guard = guard
	}
	verifier, err := verification.NewService(verifyParams)
	if err != nil {
		return nil, err
	}
	services.Verification = verifier
	return services, nil
}

var _ Gateway = (*gateway.Client)(nil)
