package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/cache"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/config"
	deliveryhttp "github.com/egannguyen/go-kafka-ecommerce/storefront/internal/delivery/http"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/gateway"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/notify"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/service"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/telemetry"
)

func serveCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, outbox relay and email worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	pricing, err := cfg.Pricing.Parse()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	logger := slog.Default()

	shutdownTracer, err := telemetry.SetupTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracer(sctx); err != nil {
			slog.Error("Failed to flush traces", "err", err)
		}
	}()

	// --- Database ---
	db, store, err := initDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	// --- Messaging ---
	broker, err := newBroker(cfg.Messaging, logger)
	if err != nil {
		return err
	}
	defer broker.Close()

	// --- Webhook dedup cache ---
	var dedupCache cache.Cache
	if cfg.Redis.Addr != "" {
		dedupCache = cache.NewRedisCache(cfg.Redis.Addr, cfg.Telemetry.ServiceName)
	} else {
		slog.Warn("REDIS_ADDR not set, webhook dedup cache is process-local")
		dedupCache = cache.NewMemoryCache(cfg.Telemetry.ServiceName)
	}

	// --- Services ---
	gw := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret, cfg.Gateway.Timeout)
	dispatcher := notify.NewDispatcher(store, broker, logger)
	refunds := service.NewRefundService(store, dispatcher, gw, pricing.ReturnWindow, logger)
	payments := service.NewPaymentService(store, dispatcher, gw, refunds,
		service.NewCacheDeduplicator(dedupCache, cfg.Redis.TTL),
		service.PaymentConfig{
			Currency:      pricing.Currency,
			KeyID:         cfg.Gateway.KeyID,
			KeySecret:     cfg.Gateway.KeySecret,
			WebhookSecret: cfg.Gateway.WebhookSecret,
		}, logger)
	orders := service.NewOrderService(store, dispatcher, pricing, logger)

	// --- Background workers ---
	limiter := deliveryhttp.NewRateLimiter(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst)
	relay := notify.NewRelay(dispatcher, cfg.Outbox.RelayInterval, cfg.Outbox.GracePeriod,
		cfg.Outbox.MaxAttempts, cfg.Outbox.BatchSize, logger)
	emails := notify.NewEmailWorker(broker, notify.LogEmailSender{Logger: logger}, logger)

	var wg sync.WaitGroup
	startBackground(ctx, &wg, relayJob(relay), emailJob(emails), limiterCleanupJob(limiter.Cleanup))

	// --- HTTP API ---
	router := deliveryhttp.NewRouter(
		deliveryhttp.NewHandler(orders, payments, refunds, store),
		deliveryhttp.NewAuthenticator(cfg.Auth.JWTSecret),
		limiter,
		logger,
	)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("http server: %w", err)
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		cancel()
	}

	slog.Info("Shutting down...")
	sctx, scancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer scancel()
	if shutdownErr := httpServer.Shutdown(sctx); shutdownErr != nil {
		slog.Error("HTTP shutdown failed", "err", shutdownErr)
	}
	wg.Wait()
	return err
}
