// Package batches orchestrates monthly rent-collection runs: it selects
// eligible tenants, dispatches one payment per tenant through a provider
// adapter, and tracks aggregate progress on a durable batch record.
package batches

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/internal/payments"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/internal/tenants"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
	"github.com/nyumbapay/nyumbapay-backend/pkg/metrics"
	"github.com/nyumbapay/nyumbapay-backend/pkg/phone"
	"github.com/nyumbapay/nyumbapay-backend/pkg/retry"
)

var monthPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// ServiceParams groups dependencies for the batch orchestrator.
type ServiceParams struct {
	Repo       Repository
	Payments   payments.Repository
	Tenants    tenants.Repository
	Providers  *providers.Registry
	Normalizer *phone.Normalizer
	Executor   *retry.Executor
	Config     config.BatchConfig
	Logger     *logger.Logger
	Metrics    *metrics.PaymentMetrics
}

// Service runs rent-collection batches. Dispatch is sequential within a
// run; one run is active per batch id thanks to the claim transition.
type Service struct {
	repo       Repository
	payments   payments.Repository
	tenants    tenants.Repository
	providers  *providers.Registry
	normalizer *phone.Normalizer
	executor   *retry.Executor
	cfg        config.BatchConfig
	logg       *logger.Logger
	metrics    *metrics.PaymentMetrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewService builds a batch orchestrator.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, errors.New("repo is required")
	}
	if params.Payments == nil {
		return nil, errors.New("payments repo is required")
	}
	if params.Tenants == nil {
		return nil, errors.New("tenants repo is required")
	}
	if params.Providers == nil {
		return nil, errors.New("provider registry is required")
	}
	if params.Normalizer == nil {
		return nil, errors.New("phone normalizer is required")
	}
	if params.Executor == nil {
		return nil, errors.New("retry executor is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	return &Service{
		repo:       params.Repo,
		payments:   params.Payments,
		tenants:    params.Tenants,
		providers:  params.Providers,
		normalizer: params.Normalizer,
		executor:   params.Executor,
		cfg:        params.Config,
		logg:       params.Logger,
		metrics:    params.Metrics,
		now:        time.Now,
		sleep:      sleepCtx,
	}, nil
}

// RunParams configures one rent-collection run.
type RunParams struct {
	// Month in YYYY-MM form; defaults to the current month.
	Month            string
	Provider         string
	TestMode         *bool
	IncludeTenantIDs []uuid.UUID
	ExcludeTenantIDs []uuid.UUID
	MinRent          *decimal.Decimal
	MaxRent          *decimal.Decimal
}

type dispatchItem struct {
	TenantID uuid.UUID
	RoomID   *uuid.UUID
	RawPhone string
	Amount   decimal.Decimal
}

type runSummary struct {
	Message    string `json:"message,omitempty"`
	Eligible   int    `json:"eligible"`
	Dispatched int    `json:"dispatched"`
	Settled    int    `json:"settled,omitempty"`
	Invalid    int    `json:"invalid"`
	Failed     int    `json:"failed"`
	Simulated  int    `json:"simulated,omitempty"`
}

// Run executes a rent-collection batch end to end. A run with zero eligible
// tenants produces a failed batch record, not an error: the caller still
// gets a durable trace of the attempt.
func (s *Service) Run(ctx context.Context, params RunParams) (*models.BatchRecord, error) {
	month := params.Month
	if month == "" {
		month = s.now().UTC().Format("2006-01")
	}
	if !monthPattern.MatchString(month) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "month must be in YYYY-MM form").
			WithDetails(map[string]any{"month": month})
	}

	provider, adapter, err := s.resolveProvider(params.Provider)
	if err != nil {
		return nil, err
	}

	testMode := s.cfg.TestMode
	if params.TestMode != nil {
		testMode = *params.TestMode
	}

	eligible, err := s.tenants.ListEligible(ctx, tenants.EligibleQuery{
		IncludeIDs: params.IncludeTenantIDs,
		ExcludeIDs: params.ExcludeTenantIDs,
		MinRent:    params.MinRent,
		MaxRent:    params.MaxRent,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing eligible tenants")
	}

	batch := &models.BatchRecord{
		ID:            fmt.Sprintf("RENT-%s-%s", month, shortID()),
		Type:          enums.BatchTypeRentCollection,
		Provider:      provider,
		Month:         month,
		Status:        enums.BatchStatusPending,
		TotalPayments: len(eligible),
		// Every payment starts pending; outcomes drain the counter one
		// single-statement move at a time.
		PendingPayments: len(eligible),
		Priority:        enums.BatchPriorityNormal,
		TestMode:        testMode,
	}
	if err := s.repo.Create(ctx, batch); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating batch record")
	}

	items := make([]dispatchItem, 0, len(eligible))
	for _, tenant := range eligible {
		item := dispatchItem{
			TenantID: tenant.ID,
			RoomID:   tenant.RoomID,
			RawPhone: tenant.PhoneNumber,
		}
		if tenant.Room != nil {
			item.Amount = tenant.Room.RentAmount
		}
		items = append(items, item)
	}

	return s.execute(ctx, batch, adapter, items)
}

// Retry re-dispatches the failed payments of an earlier batch under a new
// derived batch id. The origin batch keeps its counters; only its retry
// count moves.
func (s *Service) Retry(ctx context.Context, batchID string) (*models.BatchRecord, error) {
	origin, err := s.repo.Find(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading batch")
	}
	if origin == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found").
			WithDetails(map[string]any{"batch_id": batchID})
	}
	if !origin.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "batch is still running").
			WithDetails(map[string]any{"batch_id": batchID, "status": origin.Status.String()})
	}

	failed, err := s.payments.ListFailedByBatch(ctx, origin.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing failed payments")
	}
	if len(failed) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "batch has no failed payments to retry").
			WithDetails(map[string]any{"batch_id": batchID})
	}

	_, adapter, err := s.resolveProvider(origin.Provider.String())
	if err != nil {
		return nil, err
	}

	if err := s.repo.IncrementRetryCount(ctx, origin.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating origin batch")
	}
	origin.RetryCount++

	// Retry runs carry elevated priority so previously failed tenants are
	// dispatched ahead of routine monthly work.
	retryBatch := &models.BatchRecord{
		ID:              fmt.Sprintf("%s-R%d", origin.ID, origin.RetryCount),
		Type:            enums.BatchTypeRetry,
		Provider:        origin.Provider,
		Month:           origin.Month,
		Status:          enums.BatchStatusPending,
		TotalPayments:   len(failed),
		PendingPayments: len(failed),
		Priority:        enums.BatchPriorityHigh,
		TestMode:        origin.TestMode,
	}
	if err := s.repo.Create(ctx, retryBatch); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating retry batch record")
	}

	items := make([]dispatchItem, 0, len(failed))
	for _, record := range failed {
		items = append(items, dispatchItem{
			TenantID: record.TenantID,
			RoomID:   record.RoomID,
			RawPhone: record.PhoneNumber,
			Amount:   record.Amount,
		})
	}

	return s.execute(ctx, retryBatch, adapter, items)
}

// StatusView adds derived progress and the constituent payments to a
// batch record.
type StatusView struct {
	Batch      models.BatchRecord     `json:"batch"`
	Completion float64                `json:"completion_percent"`
	Payments   []models.PaymentRecord `json:"payments"`
}

// Status returns the batch with its completion percentage (the share of
// payments that have reached a terminal outcome) and the ledger rows the
// run produced.
func (s *Service) Status(ctx context.Context, batchID string) (*StatusView, error) {
	batch, err := s.repo.Find(ctx, batchID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading batch")
	}
	if batch == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "batch not found").
			WithDetails(map[string]any{"batch_id": batchID})
	}

	records, err := s.payments.ListByBatch(ctx, batch.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing batch payments")
	}

	view := &StatusView{Batch: *batch, Payments: records}
	if batch.TotalPayments > 0 {
		settled := batch.SuccessfulPayments + batch.FailedPayments
		view.Completion = float64(settled) / float64(batch.TotalPayments) * 100
	}
	return view, nil
}

func (s *Service) resolveProvider(raw string) (enums.Provider, providers.Adapter, error) {
	name := raw
	if name == "" {
		name = s.cfg.DefaultProvider
	}
	provider, err := enums.ParseProvider(name)
	if err != nil {
		return "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "resolving provider")
	}
	adapter, err := s.providers.Get(provider)
	if err != nil {
		return "", nil, err
	}
	return provider, adapter, nil
}

// execute claims the batch and dispatches every item. Counters move through
// single-statement deltas as outcomes land, never through a whole-row save,
// so webhooks settling items mid-run are not overwritten. Item-level
// failures never abort the run.
func (s *Service) execute(ctx context.Context, batch *models.BatchRecord, adapter providers.Adapter, items []dispatchItem) (*models.BatchRecord, error) {
	ctx = s.logg.WithBatchID(ctx, batch.ID)
	ctx = s.logg.WithProvider(ctx, batch.Provider.String())
	started := s.now()

	claimed, err := s.repo.Claim(ctx, batch.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claiming batch")
	}
	if !claimed {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "batch already claimed").
			WithDetails(map[string]any{"batch_id": batch.ID})
	}
	batch.Status = enums.BatchStatusProcessing

	if len(items) == 0 {
		s.logg.Warn(ctx, "no eligible tenants, failing batch")
		return s.finishEmpty(ctx, batch)
	}

	summary := runSummary{Eligible: len(items)}

	batchSender, nativeBatch := adapter.(providers.BatchSender)
	if nativeBatch && adapter.Capabilities().NativeBatch && !batch.TestMode {
		err = s.dispatchNative(ctx, batch, batchSender, items, &summary)
	} else {
		err = s.dispatchSequential(ctx, batch, adapter, items, &summary)
	}
	if err != nil {
		// Only context cancellation aborts a run mid-flight.
		return nil, err
	}

	return s.finish(ctx, batch, summary, started)
}

func (s *Service) dispatchSequential(ctx context.Context, batch *models.BatchRecord, adapter providers.Adapter, items []dispatchItem, summary *runSummary) error {
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, ok := s.prepareRecord(ctx, batch, item, i, summary)
		if !ok {
			continue
		}

		if batch.TestMode {
			s.simulate(ctx, batch, record, summary)
		} else {
			s.dispatchOne(ctx, batch, adapter, record, summary)
		}

		if i < len(items)-1 && s.cfg.InterItemDelay > 0 {
			if err := s.sleep(ctx, s.cfg.InterItemDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) dispatchNative(ctx context.Context, batch *models.BatchRecord, sender providers.BatchSender, items []dispatchItem, summary *runSummary) error {
	size := s.cfg.SubBatchSize
	if size <= 0 {
		size = 25
	}

	// Validate and persist every item first; only valid records enter the
	// provider sub-batches.
	records := make([]*models.PaymentRecord, 0, len(items))
	for i, item := range items {
		if record, ok := s.prepareRecord(ctx, batch, item, i, summary); ok {
			records = append(records, record)
		}
	}

	for start := 0; start < len(records); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + size
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		reqs := make([]providers.PaymentRequest, 0, len(chunk))
		for _, record := range chunk {
			reqs = append(reqs, paymentRequest(record, batch))
		}

		var resps []providers.PaymentResponse
		err := s.executor.Do(ctx, "send payment batch", func(ctx context.Context) error {
			var sendErr error
			resps, sendErr = sender.SendBatch(ctx, reqs)
			return sendErr
		})
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			for _, record := range chunk {
				s.markDispatchFailed(ctx, batch, record, err.Error(), summary)
			}
			continue
		}

		byReference := make(map[string]providers.PaymentResponse, len(resps))
		for _, resp := range resps {
			byReference[resp.Reference] = resp
		}
		for _, record := range chunk {
			resp, ok := byReference[record.Reference]
			if !ok {
				s.markDispatchFailed(ctx, batch, record, "provider response missing item", summary)
				continue
			}
			s.applyDispatchResponse(ctx, batch, record, resp, summary)
		}

		if end < len(records) && s.cfg.InterBatchDelay > 0 {
			if err := s.sleep(ctx, s.cfg.InterBatchDelay); err != nil {
				return err
			}
		}
	}
	return nil
}

// prepareRecord normalizes the phone number and persists the ledger row.
// Invalid items get a failed row immediately and are excluded from dispatch.
func (s *Service) prepareRecord(ctx context.Context, batch *models.BatchRecord, item dispatchItem, seq int, summary *runSummary) (*models.PaymentRecord, bool) {
	record := &models.PaymentRecord{
		ID:          uuid.New(),
		TenantID:    item.TenantID,
		RoomID:      item.RoomID,
		Amount:      item.Amount,
		Method:      enums.PaymentMethodMobileMoney,
		Status:      enums.PaymentStatusPending,
		Provider:    batch.Provider,
		Reference:   fmt.Sprintf("%s-%04d", batch.ID, seq+1),
		PhoneNumber: item.RawPhone,
		DueDate:     monthDueDate(batch.Month),
		Notes:       fmt.Sprintf("%s rent for %s", payments.BatchTag(batch.ID), batch.Month),
	}

	normalized, err := s.normalizer.Normalize(item.RawPhone)
	if err != nil {
		reason := fmt.Sprintf("invalid phone number: %v", err)
		record.Status = enums.PaymentStatusFailed
		record.FailureReason = &reason
		if createErr := s.payments.Create(ctx, record); createErr != nil {
			s.logg.Error(ctx, "persisting invalid payment record", createErr)
		}
		itemCtx := s.logg.WithTenantID(ctx, item.TenantID.String())
		s.logg.Warn(itemCtx, "skipping tenant with invalid phone number")
		s.metrics.IncDispatched(batch.Provider.String(), "invalid")
		summary.Invalid++
		s.moveCounter(ctx, batch.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed)
		return nil, false
	}

	record.PhoneNumber = normalized
	if err := s.payments.Create(ctx, record); err != nil {
		s.logg.Error(ctx, "persisting payment record", err)
		s.metrics.IncDispatched(batch.Provider.String(), "failed")
		summary.Failed++
		s.moveCounter(ctx, batch.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed)
		return nil, false
	}
	return record, true
}

// simulate settles a record without touching the provider. Used in test
// mode so operators can rehearse a run against real tenant data.
func (s *Service) simulate(ctx context.Context, batch *models.BatchRecord, record *models.PaymentRecord, summary *runSummary) {
	now := s.now().UTC()
	record.Status = enums.PaymentStatusCompleted
	record.TransactionID = "TEST-" + record.Reference
	record.ReceiptNumber = "TEST-" + record.Reference
	record.PaidAt = &now

	if _, err := s.payments.UpdateWithVersion(ctx, record, 0); err != nil {
		s.logg.Error(ctx, "persisting simulated payment", err)
		return
	}

	itemCtx := s.logg.WithTenantID(ctx, record.TenantID.String())
	s.logg.Info(itemCtx, "test mode: payment simulated, no provider call made")
	s.metrics.IncDispatched(batch.Provider.String(), "simulated")
	summary.Simulated++
	summary.Dispatched++
	s.moveCounter(ctx, batch.ID, enums.PaymentStatusPending, enums.PaymentStatusCompleted)
}

func (s *Service) dispatchOne(ctx context.Context, batch *models.BatchRecord, adapter providers.Adapter, record *models.PaymentRecord, summary *runSummary) {
	req := paymentRequest(record, batch)

	var resp providers.PaymentResponse
	err := s.executor.Do(ctx, "send payment", func(ctx context.Context) error {
		var sendErr error
		resp, sendErr = adapter.SendPayment(ctx, req)
		return sendErr
	})
	if err != nil {
		s.markDispatchFailed(ctx, batch, record, err.Error(), summary)
		return
	}

	s.applyDispatchResponse(ctx, batch, record, resp, summary)
}

// applyDispatchResponse settles the record from the provider's answer. Bank
// rails like pesalink can return a terminal status synchronously; those
// settle on the spot instead of waiting for a webhook that will never come.
func (s *Service) applyDispatchResponse(ctx context.Context, batch *models.BatchRecord, record *models.PaymentRecord, resp providers.PaymentResponse, summary *runSummary) {
	if !resp.Success {
		reason := resp.Message
		if reason == "" {
			reason = "provider rejected the payment"
		}
		s.markDispatchFailed(ctx, batch, record, reason, summary)
		return
	}

	status := resp.Status
	if !status.IsTerminal() {
		status = enums.PaymentStatusProcessing
	}
	record.Status = status
	record.TransactionID = resp.TransactionID
	if status == enums.PaymentStatusCompleted {
		paidAt := s.now().UTC()
		record.PaidAt = &paidAt
	}
	if status.IsTerminal() && status != enums.PaymentStatusCompleted && resp.Message != "" {
		reason := resp.Message
		record.FailureReason = &reason
	}

	updated, err := s.payments.UpdateWithVersion(ctx, record, 0)
	if err != nil {
		s.logg.Error(ctx, "persisting dispatched payment", err)
		return
	}
	if !updated {
		// A callback settled this row before the dispatch write landed; its
		// counter move already happened.
		s.logg.Info(ctx, "payment settled by callback before dispatch write")
		summary.Dispatched++
		return
	}

	switch {
	case status == enums.PaymentStatusCompleted:
		s.moveCounter(ctx, batch.ID, enums.PaymentStatusPending, status)
		s.metrics.IncDispatched(batch.Provider.String(), "settled")
		summary.Dispatched++
		summary.Settled++
	case status.IsTerminal():
		s.moveCounter(ctx, batch.ID, enums.PaymentStatusPending, status)
		s.metrics.IncDispatched(batch.Provider.String(), "failed")
		summary.Failed++
	default:
		// Still pending from the batch's point of view; the webhook or the
		// status poller drains the counter later.
		s.metrics.IncDispatched(batch.Provider.String(), "sent")
		summary.Dispatched++
	}
}

func (s *Service) markDispatchFailed(ctx context.Context, batch *models.BatchRecord, record *models.PaymentRecord, reason string, summary *runSummary) {
	record.Status = enums.PaymentStatusFailed
	record.FailureReason = &reason
	updated, err := s.payments.UpdateWithVersion(ctx, record, 0)
	if err != nil {
		s.logg.Error(ctx, "persisting failed payment", err)
		return
	}
	if !updated {
		s.logg.Info(ctx, "payment settled by callback before dispatch write")
		return
	}

	itemCtx := s.logg.WithTenantID(ctx, record.TenantID.String())
	s.logg.Warn(itemCtx, "payment dispatch failed")
	s.metrics.IncDispatched(batch.Provider.String(), "failed")
	summary.Failed++
	s.moveCounter(ctx, batch.ID, enums.PaymentStatusPending, enums.PaymentStatusFailed)
}

// moveCounter applies one single-statement counter delta. Failures are
// logged, not fatal: a stuck counter is recoverable, an aborted run is not.
func (s *Service) moveCounter(ctx context.Context, batchID string, from, to enums.PaymentStatus) {
	if err := s.repo.ApplyOutcome(ctx, batchID, from, to); err != nil {
		s.logg.Error(ctx, "moving batch counters", err)
	}
}

func (s *Service) finishEmpty(ctx context.Context, batch *models.BatchRecord) (*models.BatchRecord, error) {
	now := s.now().UTC()
	batch.Status = enums.BatchStatusFailed
	batch.CompletedAt = &now
	batch.Result = mustJSON(runSummary{Message: "no eligible tenants matched the run filters"})
	if err := s.repo.Fail(ctx, batch.ID, batch.Result); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalizing empty batch")
	}
	return batch, nil
}

// finish writes the run summary and attempts completion, then re-reads the
// row: counters may have moved under us while we were dispatching, so the
// in-memory batch is never written back wholesale.
func (s *Service) finish(ctx context.Context, batch *models.BatchRecord, summary runSummary, started time.Time) (*models.BatchRecord, error) {
	if err := s.repo.SetResult(ctx, batch.ID, mustJSON(summary)); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting batch summary")
	}

	// Runs with nothing left pending (test mode, all failures, bank rails
	// with synchronous settlement) complete immediately; the rest complete
	// when webhook reconciliation or status polling drains the counter.
	// Finalize is guarded by the pending count, so calling it early is
	// harmless.
	if _, err := s.repo.Finalize(ctx, batch.ID); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "finalizing batch")
	}

	fresh, err := s.repo.Find(ctx, batch.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reloading batch")
	}
	if fresh != nil {
		batch = fresh
	}

	duration := s.now().Sub(started)
	s.metrics.ObserveBatchDuration(batch.Provider.String(), duration)
	doneCtx := s.logg.WithFields(ctx, map[string]any{
		"total":       batch.TotalPayments,
		"dispatched":  summary.Dispatched,
		"failed":      summary.Failed,
		"invalid":     summary.Invalid,
		"pending":     batch.PendingPayments,
		"duration_ms": duration.Milliseconds(),
	})
	s.logg.Info(doneCtx, "batch run finished")
	return batch, nil
}

func paymentRequest(record *models.PaymentRecord, batch *models.BatchRecord) providers.PaymentRequest {
	return providers.PaymentRequest{
		PhoneNumber: record.PhoneNumber,
		Amount:      record.Amount,
		Reference:   record.Reference,
		Description: "Rent for " + batch.Month,
	}
}

// monthDueDate is the first day of the batch month.
func monthDueDate(month string) time.Time {
	parsed, err := time.Parse("2006-01", month)
	if err != nil {
		return time.Time{}
	}
	return parsed.UTC()
}

func shortID() string {
	return uuid.NewString()[:8]
}

func mustJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
