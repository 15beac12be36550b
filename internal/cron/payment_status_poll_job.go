package cron

import (
	"context"
	"errors"

	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/internal/webhooks"
	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
	"github.com/nyumbapay/nyumbapay-backend/pkg/retry"
)

// SettlementReconciler applies a polled outcome to the ledger and the batch
// counters. Satisfied by webhooks.Service.
type SettlementReconciler interface {
	Reconcile(ctx context.Context, callback providers.WebhookCallback) (*webhooks.Result, error)
}

// OpenPaymentSource lists dispatched payments still awaiting an outcome.
type OpenPaymentSource interface {
	ListOpenByProvider(ctx context.Context, provider enums.Provider) ([]models.PaymentRecord, error)
}

// PaymentStatusPollJob drains open payments on providers without webhook
// delivery (pesalink) by polling transfer status and reconciling terminal
// answers the same way a callback would be.
type PaymentStatusPollJob struct {
	registry   *providers.Registry
	payments   OpenPaymentSource
	reconciler SettlementReconciler
	executor   *retry.Executor
	logg       *logger.Logger
}

func NewPaymentStatusPollJob(registry *providers.Registry, payments OpenPaymentSource, reconciler SettlementReconciler, executor *retry.Executor, logg *logger.Logger) *PaymentStatusPollJob {
	return &PaymentStatusPollJob{
		registry:   registry,
		payments:   payments,
		reconciler: reconciler,
		executor:   executor,
		logg:       logg,
	}
}

func (j *PaymentStatusPollJob) Name() string {
	return "payment_status_poll"
}

func (j *PaymentStatusPollJob) Run(ctx context.Context) error {
	for _, provider := range enums.Providers() {
		adapter, err := j.registry.Get(provider)
		if err != nil {
			continue
		}
		if adapter.Capabilities().WebhookDelivery {
			// Callbacks settle these; polling would race the webhook path
			// for no benefit.
			continue
		}
		if err := j.pollProvider(ctx, provider, adapter); err != nil {
			return err
		}
	}
	return nil
}

func (j *PaymentStatusPollJob) pollProvider(ctx context.Context, provider enums.Provider, adapter providers.Adapter) error {
	ctx = j.logg.WithProvider(ctx, provider.String())

	records, err := j.payments.ListOpenByProvider(ctx, provider)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	j.logg.Info(j.logg.WithField(ctx, "open_payments", len(records)), "polling open payments")

	for i := range records {
		record := records[i]
		recordCtx := j.logg.WithField(ctx, "payment_id", record.ID.String())

		var resp providers.PaymentResponse
		err := j.executor.Do(recordCtx, "poll payment status", func(ctx context.Context) error {
			var statusErr error
			resp, statusErr = adapter.GetStatus(ctx, record.TransactionID)
			return statusErr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			j.logg.Warn(recordCtx, "status poll failed, will retry next cycle")
			continue
		}
		if !resp.Status.IsTerminal() {
			continue
		}

		callback := providers.WebhookCallback{
			TransactionID: record.TransactionID,
			Reference:     record.Reference,
			Status:        resp.Status,
			Amount:        record.Amount,
			PhoneNumber:   record.PhoneNumber,
			Provider:      provider,
		}
		if resp.Status != enums.PaymentStatusCompleted && resp.Message != "" {
			callback.FailureReason = resp.Message
		}

		if _, err := j.reconciler.Reconcile(recordCtx, callback); err != nil {
			j.logg.Error(recordCtx, "reconciling polled outcome", err)
			continue
		}
		j.logg.Info(j.logg.WithField(recordCtx, "status", resp.Status.String()), "polled payment settled")
	}
	return nil
}
