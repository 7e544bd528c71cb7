package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/doncapon/yemisshop-sub004/api/controllers"
	"github.com/doncapon/yemisshop-sub004/api/routes"
	"github.com/doncapon/yemisshop-sub004/internal/settlement"
	"github.com/doncapon/yemisshop-sub004/pkg/config"
	"github.com/doncapon/yemisshop-sub004/pkg/db"
	"github.com/doncapon/yemisshop-sub004/pkg/gateway"
	"github.com/doncapon/yemisshop-sub004/pkg/instance"
	"github.com/doncapon/yemisshop-sub004/pkg/logger"
	"github.com/doncapon/yemisshop-sub004/pkg/migrate"
	"github.com/doncapon/yemisshop-sub004/pkg/outbox"
	"github.com/doncapon/yemisshop-sub004/pkg/redis"
)

const shutdownTimeout = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		logg.Error(ctx, "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		logg.Error(ctx, "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	gatewayClient, err := gateway.NewClient(ctx, cfg.Gateway, logg)
	if err != nil {
		logg.Error(ctx, "failed to create gateway client", err)
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svcs, err := settlement.Build(ctx, settlement.Params{
		Config:      cfg,
		DB:          dbClient,
		Gateway:     gatewayClient,
		Idempotency: redisClient,
		Registerer:  registry,
		Logger:      logg,
	})
	if err != nil {
		logg.Error(ctx, "failed to build settlement services", err)
		os.Exit(1)
	}
	if svcs.Verification == nil {
		logg.Warn(ctx, "gateway webhook secret missing, webhook and verify endpoints disabled")
	}

	deps := routes.Dependencies{
		Payments:    svcs.Payments,
		Finalizer:   svcs.Finalization,
		Profit:      svcs.Profit,
		Allocations: svcs.Allocations,
		Settings:    svcs.Settings,
		DeadLetters: outbox.NewDLQRepository(dbClient.DB()),
		Idempotency: redisClient,
		Readiness: map[string]controllers.Pinger{
			"database": dbClient,
			"redis":    redisClient,
		},
		Gatherer: registry,
	}
	if svcs.Verification != nil {
		deps.Verification = svcs.Verification
		deps.Webhooks = svcs.Verification
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": instance.GetID("local"),
		"sandbox":  gatewayClient.Sandbox(),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(cfg, logg, deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(logCtx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		logg.Info(logCtx, "shutting down api server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logg.Error(logCtx, "api server shutdown failed", err)
		}
	}
}
