package cron

import (
	"context"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
	"github.com/nyumbapay/nyumbapay-backend/pkg/retry"
)

// ProviderHealthJob probes every enabled adapter and logs float balances
// where the provider supports querying them.
type ProviderHealthJob struct {
	registry *providers.Registry
	executor *retry.Executor
	logg     *logger.Logger
}

func NewProviderHealthJob(registry *providers.Registry, executor *retry.Executor, logg *logger.Logger) *ProviderHealthJob {
	return &ProviderHealthJob{registry: registry, executor: executor, logg: logg}
}

func (j *ProviderHealthJob) Name() string {
	return "provider_health"
}

func (j *ProviderHealthJob) Run(ctx context.Context) error {
	for _, provider := range enums.Providers() {
		adapter, err := j.registry.Get(provider)
		if err != nil {
			continue
		}
		providerCtx := j.logg.WithProvider(ctx, provider.String())

		if err := adapter.HealthCheck(ctx); err != nil {
			j.logg.Error(providerCtx, "provider health check failed", err)
			continue
		}
		j.logg.Info(providerCtx, "provider healthy")

		if adapter.Capabilities().BalanceQuery {
			var balance providers.Balance
			err := j.executor.Do(providerCtx, "query provider balance", func(ctx context.Context) error {
				var balanceErr error
				balance, balanceErr = adapter.GetBalance(ctx)
				return balanceErr
			})
			if err != nil {
				j.logg.Error(providerCtx, "balance query failed", err)
				continue
			}
			balanceCtx := j.logg.WithFields(providerCtx, map[string]any{
				"currency":  balance.Currency,
				"available": balance.Available.String(),
			})
			j.logg.Info(balanceCtx, "provider float balance")
		}
	}
	return nil
}
