package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/doncapon/yemisshop-sub004/internal/cron"
	"github.com/doncapon/yemisshop-sub004/internal/settlement"
	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/instance"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/metrics"
	"github.com/doncapon/yemisshop-sub004/pkg/migrate"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(context.Background(), cfg.Gateway, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create gateway client", err)
		os.Exit(1)
	}

	svcs, err := settlement.Build(context.Background(), settlement.Params{
		Config:     cfg,
		DB:         dbClient,
		Gateway:    gatewayClient,
		Registerer: prometheus.DefaultRegisterer,
		Logger:     logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to build settlement services", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(redisClient, cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, svcs)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metricsCollector,
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"instance":    instance.GetID("cron-0"),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, svcs *settlement.Services) (*cron.Registry, error) {
	intentTTL, err := cron.NewIntentTTLJob(cron.IntentTTLJobParams{
		Logger:    logg,
		Payments:  svcs.Payments,
		BatchSize: cfg.Cron.IntentTTLBatchSize,
	})
	if err != nil {
		return nil, err
	}
	sweep, err := cron.NewFinalizationSweepJob(cron.FinalizationSweepJobParams{
		Logger:    logg,
		Sweeper:   svcs.Finalization,
		Lookback:  cfg.Cron.SweepLookback,
		BatchSize: cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		DeadLetters:   outbox.NewDLQRepository(dbClient.DB()),
		RetentionDays: cfg.Cron.OutboxRetentionDays,
	})
	if err != nil {
		return nil, err
	}
	return cron.NewRegistry(intentTTL, sweep, retention)
}

func lockKey(client *redis.Client, env string) string {
	if env == "" {
		env = "local"
	}
	return client.LockKey(lockName + ":" + env)
}
