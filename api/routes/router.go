package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doncapon/yemisshop-sub004/api/controllers"
	webhookcontrollers "github.com/doncapon/yemisshop-sub004/api/controllers/webhooks"
	"github.com/doncapon/yemisshop-sub004/api/middleware"
	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/redis"
)

// Dependencies are the services the HTTP surface dispatches to. Nil entries
// answer with an internal error instead of panicking.
type Dependencies struct {
	Payments     controllers.CheckoutInitializer
	Verification controllers.ReferenceVerifier
	Webhooks     webhookcontrollers.GatewayWebhookService
	Finalizer    controllers.PaymentFinalizer
	Profit       controllers.ProfitRecomputer
	Allocations  controllers.AllocationOverrider
	Settings     controllers.SettingsRefresher
	DeadLetters  controllers.DeadLetterReader
	Idempotency  redis.IdempotencyStore
	Readiness    map[string]controllers.Pinger
	Gatherer     prometheus.Gatherer
}

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Readiness))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(deps.Webhooks, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(deps.Idempotency, logg))
		r.Post("/orders/{orderId}/payments", controllers.InitializePayment(deps.Payments, logg))
		r.Get("/payments/verify/{reference}", controllers.VerifyPayment(deps.Verification, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.AdminKey(cfg.Admin.APIKey, logg))
		r.Use(middleware.Idempotency(deps.Idempotency, logg))
		r.Get("/ping", controllers.AdminPing())
		r.Route("/v1", func(r chi.Router) {
			r.Post("/payments/{paymentId}/finalize", controllers.AdminFinalizePayment(deps.Finalizer, logg))
			r.Post("/payments/{paymentId}/profit", controllers.AdminRecomputeProfit(deps.Profit, logg))
			r.Post("/allocations/{allocationId}/mark-paid", controllers.AdminMarkAllocationPaid(deps.Allocations, logg))
			r.Post("/settings/refresh", controllers.AdminRefreshSettings(deps.Settings, logg))
			r.Get("/outbox/dead-letters", controllers.AdminListDeadLetters(deps.DeadLetters, logg))
			r.Get("/outbox/dead-letters/{eventId}", controllers.AdminGetDeadLetter(deps.DeadLetters, logg))
		})
	})

	return r
}
