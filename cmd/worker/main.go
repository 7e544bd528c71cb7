package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/doncapon/yemisshop-sub004/internal/analytics/router"
	"github.com/doncapon/yemisshop-sub004/internal/analytics/worker"
	"github.com/doncapon/yemisshop-sub004/internal/analytics/writer"
	"github.com/doncapon/yemisshop-sub004/internal/finalization"
	"github.com/doncapon/yemisshop-sub004/internal/settlement"
	"github.com/doncapon/yemisshop-sub004/pkg/bigquery"
	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/instance"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox/idempotency"
	"github.com/doncapon/yemisshop-sub004/pkg/pubsub"
	"github.com/doncapon/yemisshop-sub004/pkg/redis"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(ctx, "failed to close database", err)
		}
	}()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(ctx, "failed to close redis client", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(ctx, "failed to close pubsub client", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	requireResource(ctx, logg, "gateway client", err)

	svcs, err := settlement.Build(ctx, settlement.Params{
		Config:      cfg,
		DB:          dbClient,
		Gateway:     gatewayClient,
		Idempotency: redisClient,
		Registerer:  prometheus.DefaultRegisterer,
		Logger:      logg,
	})
	requireResource(ctx, logg, "settlement services", err)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL, cfg.Eventing.ConsumerLease)
	requireResource(ctx, logg, "idempotency manager", err)

	paymentsSub := pubsubClient.PaymentsSubscription()
	if paymentsSub == nil {
		requireResource(ctx, logg, "payments subscription", errors.New("subscription not configured"))
	}
	finalizationConsumer, err := finalization.NewConsumer(svcs.Finalization, paymentsSub, manager, logg)
	requireResource(ctx, logg, "finalization consumer", err)

	readiness := map[string]pinger{
		"database": dbClient.Ping,
		"redis":    redisClient.Ping,
		"pubsub":   pubsubClient.Ping,
	}

	params := ServiceParams{
		Logger:       logg,
		Finalization: finalizationConsumer,
		Readiness:    readiness,
	}

	if sub := pubsubClient.AnalyticsSubscription(); sub != nil {
		bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg)
		requireResource(ctx, logg, "bigquery client", err)
		defer func() {
			if err := bqClient.Close(); err != nil {
				logg.Error(ctx, "failed to close bigquery client", err)
			}
		}()

		tables := bqClient.Tables()
		analyticsWriter, err := writer.New(bqClient, writer.Config{
			ProfitTable:        tables.Profit,
			PaymentEventsTable: tables.PaymentEvents,
		})
		requireResource(ctx, logg, "analytics bigquery writer", err)
		defer func() {
			if err := analyticsWriter.Flush(context.WithoutCancel(ctx)); err != nil {
				logg.Error(ctx, "failed to flush analytics rows", err)
			}
		}()

		routingHandler, err := router.NewRouter(analyticsWriter, logg, nil)
		requireResource(ctx, logg, "analytics router", err)

		analyticsService, err := worker.NewService(sub, routingHandler, manager, logg)
		requireResource(ctx, logg, "analytics worker service", err)

		params.Analytics = analyticsService
		readiness["bigquery"] = bqClient.Ping
	}

	service, err := NewService(params)
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID("worker-0"),
	})
	logg.Info(runCtx, "worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "worker failed", err)
		os.Exit(1)
	}
	logg.Info(runCtx, "worker shutting down gracefully")
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
