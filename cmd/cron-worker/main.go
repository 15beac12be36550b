package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nyumbapay/nyumbapay-backend/internal/batches"
	"github.com/nyumbapay/nyumbapay-backend/internal/cron"
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

const lockKeyFormat = "np:cron-worker:lock:%s"

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

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	cronMetrics := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)

	registry := buildProviderRegistry(cfg)
	normalizer := phone.NewNormalizer(phone.Options{
		CountryCode:   cfg.Phone.CountryCode,
		RepairEnabled: cfg.Phone.RepairEnabled,
	})
	executor := retry.NewExecutor(retry.PolicyFromConfig(cfg.Retry), logg)

	batchRepo := batches.NewRepository(dbClient.DB())
	paymentRepo := payments.NewRepository(dbClient.DB())
	batchService, err := batches.NewService(batches.ServiceParams{
		Repo:       batchRepo,
		Payments:   paymentRepo,
		Tenants:    tenants.NewRepository(dbClient.DB()),
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

	var notifier sms.Notifier = sms.Noop{}
	if cfg.SMS.Enabled {
		notifier = sms.NewClient(cfg.SMS, nil)
	}

	// The poll job reuses the webhook reconciler so polled outcomes move
	// ledger rows and batch counters exactly like callback deliveries.
	reconciler, err := webhooks.NewService(webhooks.ServiceParams{
		Providers: registry,
		Payments:  paymentRepo,
		Batches:   batchRepo,
		Tx:        dbClient,
		Notifier:  notifier,
		Logger:    logg,
		Metrics:   paymentMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook reconciler", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	jobs := cron.NewRegistry(
		cron.NewRentCollectionJob(batchService, batchRepo, cfg.Cron, logg),
		cron.NewPaymentStatusPollJob(registry, paymentRepo, reconciler, executor, logg),
		cron.NewProviderHealthJob(registry, executor, logg),
	)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: jobs,
		Lock:     lock,
		Metrics:  cronMetrics,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{"env": cfg.App.Env})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
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

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
