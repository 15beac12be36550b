// Package webhooks reconciles asynchronous provider callbacks against the
// payment ledger. Every delivery is verified, deduplicated, matched to a
// ledger row and applied exactly once.
package webhooks

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nyumbapay/nyumbapay-backend/internal/batches"
	"github.com/nyumbapay/nyumbapay-backend/internal/payments"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/internal/sms"
	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
	"github.com/nyumbapay/nyumbapay-backend/pkg/metrics"
)

// Outcome classifies what processing a callback did.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeStale     Outcome = "stale"
	OutcomeOrphan    Outcome = "orphan"
)

var batchTagPattern = regexp.MustCompile(`\[batch:([^\]\s]+)\]`)

// Result reports how a callback was reconciled.
type Result struct {
	Outcome   Outcome
	PaymentID uuid.UUID
	BatchID   string
}

// TxRunner executes fn inside a database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the webhook reconciler.
type ServiceParams struct {
	Providers *providers.Registry
	Payments  payments.Repository
	Batches   batches.Repository
	Tx        TxRunner
	Guard     *IdempotencyGuard
	Notifier  sms.Notifier
	Logger    *logger.Logger
	Metrics   *metrics.PaymentMetrics
}

// Service applies provider callbacks to the ledger.
type Service struct {
	providers *providers.Registry
	payments  payments.Repository
	batches   batches.Repository
	tx        TxRunner
	guard     *IdempotencyGuard
	notifier  sms.Notifier
	logg      *logger.Logger
	metrics   *metrics.PaymentMetrics
}

// NewService builds a webhook reconciler.
func NewService(params ServiceParams) (*Service, error) {
	if params.Providers == nil {
		return nil, errors.New("provider registry is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payments repo is required")
	}
	if params.Batches == nil {
		return nil, errors.New("batches repo is required")
	}
	if params.Tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	notifier := params.Notifier
	if notifier == nil {
		notifier = sms.Noop{}
	}
	return &Service{
		providers: params.Providers,
		payments:  params.Payments,
		batches:   params.Batches,
		tx:        params.Tx,
		guard:     params.Guard,
		notifier:  notifier,
		logg:      params.Logger,
		metrics:   params.Metrics,
	}, nil
}

// Process verifies, parses and applies one raw callback delivery. The
// signature argument carries the transport header where the provider's
// scheme uses one. Verification failures reject the delivery without
// touching any state.
func (s *Service) Process(ctx context.Context, provider enums.Provider, raw []byte, signature string) (*Result, error) {
	ctx = s.logg.WithProvider(ctx, provider.String())

	adapter, err := s.providers.Get(provider)
	if err != nil {
		s.metrics.IncWebhook(provider.String(), "rejected")
		return nil, err
	}
	if !adapter.Capabilities().WebhookDelivery {
		s.metrics.IncWebhook(provider.String(), "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "provider does not deliver webhooks").
			WithDetails(map[string]any{"provider": provider.String()})
	}

	if err := adapter.VerifyCallback(raw, signature); err != nil {
		s.logg.Warn(ctx, "callback verification failed")
		s.metrics.IncWebhook(provider.String(), "rejected")
		return nil, err
	}

	callback, err := adapter.ParseCallback(raw)
	if err != nil {
		s.metrics.IncWebhook(provider.String(), "rejected")
		return nil, err
	}

	eventID := callback.TransactionID
	if eventID == "" {
		digest := sha256.Sum256(raw)
		eventID = hex.EncodeToString(digest[:])
	}
	ctx = s.logg.WithField(ctx, "event_id", eventID)

	if s.guard != nil {
		alreadyProcessed, err := s.guard.CheckAndMark(ctx, eventID)
		if err != nil {
			// Redis being down must not drop payments; the version check
			// below still protects against double-apply.
			s.logg.Error(ctx, "idempotency check failed, continuing", err)
		} else if alreadyProcessed {
			s.logg.Info(ctx, "duplicate callback short-circuited")
			s.metrics.IncWebhook(provider.String(), "duplicate")
			return &Result{Outcome: OutcomeDuplicate}, nil
		}
	}

	var result *Result
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var applyErr error
		result, applyErr = s.apply(ctx, tx, callback)
		return applyErr
	})
	if txErr != nil {
		if s.guard != nil {
			if delErr := s.guard.Delete(ctx, eventID); delErr != nil {
				s.logg.Error(ctx, "releasing idempotency marker", delErr)
			}
		}
		return nil, txErr
	}

	s.metrics.IncWebhook(provider.String(), string(result.Outcome))
	if result.Outcome == OutcomeApplied && callback.Status == enums.PaymentStatusCompleted {
		s.notifyAsync(ctx, callback.PhoneNumber, callback.ReceiptNumber, callback.Amount.StringFixed(2))
	}
	return result, nil
}

// Reconcile applies a settlement report that arrived outside the webhook
// channel (status polling against providers without callback delivery).
// The report is already trusted, so no signature check or replay guard
// runs; the row version check still protects against double-apply.
func (s *Service) Reconcile(ctx context.Context, callback providers.WebhookCallback) (*Result, error) {
	ctx = s.logg.WithProvider(ctx, callback.Provider.String())

	var result *Result
	txErr := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var applyErr error
		result, applyErr = s.apply(ctx, tx, callback)
		return applyErr
	})
	if txErr != nil {
		return nil, txErr
	}

	if result.Outcome == OutcomeApplied && callback.Status == enums.PaymentStatusCompleted {
		s.notifyAsync(ctx, callback.PhoneNumber, callback.ReceiptNumber, callback.Amount.StringFixed(2))
	}
	return result, nil
}

// apply matches the callback to a ledger row and settles it. Runs inside
// one transaction so the row update and the batch counter move together.
func (s *Service) apply(ctx context.Context, tx *gorm.DB, callback providers.WebhookCallback) (*Result, error) {
	paymentsTx := s.payments.WithTx(tx)
	batchesTx := s.batches.WithTx(tx)

	record, err := s.match(ctx, paymentsTx, callback)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "matching callback")
	}

	if record == nil {
		orphan, err := s.createOrphan(ctx, paymentsTx, callback)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "recording orphan callback")
		}
		s.logg.Warn(ctx, "callback matched no payment, orphan recorded")
		return &Result{Outcome: OutcomeOrphan, PaymentID: orphan.ID}, nil
	}

	ctx = s.logg.WithField(ctx, "payment_id", record.ID.String())

	if !record.Status.CanTransitionTo(callback.Status) {
		// Terminal rows never move again; a replay of the settling
		// callback lands here when redis no longer remembers it.
		outcome := OutcomeStale
		if record.Status == callback.Status {
			outcome = OutcomeDuplicate
		}
		s.logg.Info(ctx, "callback ignored, no legal transition")
		return &Result{Outcome: outcome, PaymentID: record.ID}, nil
	}

	expected := record.Version
	previous := record.Status
	s.settle(record, callback)

	updated, err := paymentsTx.UpdateWithVersion(ctx, record, expected)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating payment record")
	}
	if !updated {
		// Lost the version race to a concurrent delivery of the same event.
		s.logg.Info(ctx, "callback lost update race, treating as duplicate")
		return &Result{Outcome: OutcomeDuplicate, PaymentID: record.ID}, nil
	}

	result := &Result{Outcome: OutcomeApplied, PaymentID: record.ID}
	if batchID := batchIDFromNotes(record.Notes); batchID != "" {
		result.BatchID = batchID
		if err := batchesTx.ApplyOutcome(ctx, batchID, previous, callback.Status); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating batch counters")
		}
		if _, err := batchesTx.Finalize(ctx, batchID); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalizing batch")
		}
	}

	s.logg.Info(ctx, "callback applied")
	return result, nil
}

// match resolves the ledger row in confidence order: transaction id, then
// our reference, then the open-payment amount+phone heuristic.
func (s *Service) match(ctx context.Context, repo payments.Repository, callback providers.WebhookCallback) (*models.PaymentRecord, error) {
	if record, err := repo.FindByTransactionID(ctx, callback.TransactionID); err != nil || record != nil {
		return record, err
	}
	if record, err := repo.FindByReference(ctx, callback.Reference); err != nil || record != nil {
		return record, err
	}
	if callback.Amount.IsPositive() && callback.PhoneNumber != "" {
		return repo.FindOpenByAmountAndPhone(ctx, callback.Amount, callback.PhoneNumber)
	}
	return nil, nil
}

// settle copies the callback outcome onto the record and appends an
// audit line; notes are append-only.
func (s *Service) settle(record *models.PaymentRecord, callback providers.WebhookCallback) {
	record.Status = callback.Status
	if callback.TransactionID != "" {
		record.TransactionID = callback.TransactionID
	}
	if callback.ReceiptNumber != "" {
		record.ReceiptNumber = callback.ReceiptNumber
	}
	if callback.Status == enums.PaymentStatusCompleted {
		paidAt := time.Now().UTC()
		if callback.CompletedAt != nil {
			paidAt = callback.CompletedAt.UTC()
		}
		record.PaidAt = &paidAt
	}
	if callback.FailureReason != "" {
		reason := callback.FailureReason
		record.FailureReason = &reason
	}

	line := fmt.Sprintf("[webhook] %s reported %s", callback.Provider, callback.Status)
	if callback.ReceiptNumber != "" {
		line += " receipt=" + callback.ReceiptNumber
	}
	if record.Notes != "" {
		record.Notes += "\n"
	}
	record.Notes += line
}

// createOrphan persists an unmatched callback so money that moved is never
// invisible. Orphans carry no tenant and are flagged for manual review.
func (s *Service) createOrphan(ctx context.Context, repo payments.Repository, callback providers.WebhookCallback) (*models.PaymentRecord, error) {
	reference := callback.Reference
	if reference == "" {
		reference = "ORPHAN-" + uuid.NewString()
	}
	record := &models.PaymentRecord{
		ID:            uuid.New(),
		Amount:        callback.Amount,
		Method:        enums.PaymentMethodMobileMoney,
		Status:        callback.Status,
		Provider:      callback.Provider,
		TransactionID: callback.TransactionID,
		Reference:     reference,
		PhoneNumber:   callback.PhoneNumber,
		ReceiptNumber: callback.ReceiptNumber,
		Notes:         fmt.Sprintf("[orphan] unmatched %s callback, needs manual review", callback.Provider),
	}
	if callback.FailureReason != "" {
		reason := callback.FailureReason
		record.FailureReason = &reason
	}
	if callback.Status == enums.PaymentStatusCompleted {
		paidAt := time.Now().UTC()
		if callback.CompletedAt != nil {
			paidAt = callback.CompletedAt.UTC()
		}
		record.PaidAt = &paidAt
	}
	if err := repo.Create(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// notifyAsync sends the confirmation text without blocking or failing the
// acknowledgement.
func (s *Service) notifyAsync(ctx context.Context, phoneNumber, receipt, amount string) {
	if phoneNumber == "" {
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		sendCtx, cancel := context.WithTimeout(detached, 15*time.Second)
		defer cancel()
		message := fmt.Sprintf("Rent payment of KES %s received. Receipt: %s. Thank you.", amount, receipt)
		if err := s.notifier.Send(sendCtx, phoneNumber, message); err != nil {
			s.logg.Error(sendCtx, "sending confirmation sms", err)
		}
	}()
}

func batchIDFromNotes(notes string) string {
	match := batchTagPattern.FindStringSubmatch(notes)
	if len(match) != 2 {
		return ""
	}
	return match[1]
}
