package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nyumbapay/nyumbapay-backend/api/routes"
	"github.com/nyumbapay/nyumbapay-backend/internal/batches"
	"github.com/nyumbapay/nyumbapay-backend/internal/payments"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers/airtel"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers/mpesa"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers/pesalink"
	"github.com/nyumbapay/nyumbapay-backend/internal/sms"
	"github.com/nyumbapay/nyumbapay-backend/internal/tenants"
	"github.com/nyumbapay/nyumbapay-backend/internal/webhooks"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	"github.com/nyumbapay/nyumbapay-backend/pkg/db"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
	"github.com/nyumbapay/nyumbapay-backend/pkg/metrics"
	"github.com/nyumbapay/nyumbapay-backend/pkg/phone"
	"github.com/nyumbapay/nyumbapay-backend/pkg/redis"
	"github.com/nyumbapay/nyumbapay-backend/pkg/retry"
)

// Providers redeliver for up to two days; markers live slightly longer.
const webhookIdempotencyTTL = 48 * time.Hour

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

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())
	paymentMetrics := metrics.NewPaymentMetrics(promRegistry)

	registry := buildProviderRegistry(cfg)
	normalizer := phone.NewNormalizer(phone.Options{
		CountryCode:   cfg.Phone.CountryCode,
		RepairEnabled: cfg.Phone.RepairEnabled,
	})
	executor := retry.NewExecutor(retry.PolicyFromConfig(cfg.Retry), logg)

	batchRepo := batches.NewRepository(dbClient.DB())
	paymentRepo := payments.NewRepository(dbClient.DB())
	tenantRepo := tenants.NewRepository(dbClient.DB())

	batchService, err := batches.NewService(batches.ServiceParams{
		Repo:       batchRepo,
		Payments:   paymentRepo,
		Tenants:    tenantRepo,
		Providers:  registry,
		Normalizer: normalizer,
		Executor:   executor,
		Config:     cfg.Batch,
		Logger:     logg,
		Metrics:    paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create batch service", err)
		os.Exit(1)
	}

	webhookGuard, err := webhooks.NewIdempotencyGuard(redisClient, webhookIdempotencyTTL, "webhook")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	var notifier sms.Notifier = sms.Noop{}
	if cfg.SMS.Enabled {
		notifier = sms.NewClient(cfg.SMS, nil)
	}

	webhookService, err := webhooks.NewService(webhooks.ServiceParams{
		Providers: registry,
		Payments:  paymentRepo,
		Batches:   batchRepo,
		Tx:        dbClient,
		Guard:     webhookGuard,
		Notifier:  notifier,
		Logger:    logg,
		Metrics:   paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":       cfg.App.Env,
		"addr":      addr,
		"providers": registry.Len(),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, batchService, webhookService, promRegistry),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func buildProviderRegistry(cfg *config.Config) *providers.Registry {
	adapters := []providers.Adapter{}
	if cfg.Mpesa.Enabled {
		adapters = append(adapters, mpesa.NewAdapter(mpesa.NewClient(cfg.Mpesa, nil)))
	}
	if cfg.Airtel.Enabled {
		adapters = append(adapters, airtel.NewAdapter(airtel.NewClient(cfg.Airtel, nil), cfg.Airtel.SigningSecret))
	}
	if cfg.Pesalink.Enabled {
		adapters = append(adapters, pesalink.NewAdapter(cfg.Pesalink, nil))
	}
	return providers.NewRegistry(adapters...)
}
