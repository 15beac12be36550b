package webhooks

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nyumbapay/nyumbapay-backend/internal/batches"
	"github.com/nyumbapay/nyumbapay-backend/internal/payments"
	"github.com/nyumbapay/nyumbapay-backend/internal/providers"
	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
	"github.com/nyumbapay/nyumbapay-backend/pkg/metrics"
)

type stubTx struct{}

func (stubTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type memIdempotencyStore struct {
	keys   map[string]bool
	setErr error
}

func newMemIdempotencyStore() *memIdempotencyStore {
	return &memIdempotencyStore{keys: map[string]bool{}}
}

func (m *memIdempotencyStore) SetNX(_ context.Context, key string, _ any, _ time.Duration) (bool, error) {
	if m.setErr != nil {
		return false, m.setErr
	}
	if m.keys[key] {
		return false, nil
	}
	m.keys[key] = true
	return true, nil
}

func (m *memIdempotencyStore) IdempotencyKey(scope, id string) string {
	return "np:idem:" + scope + ":" + id
}

func (m *memIdempotencyStore) Del(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

type stubPaymentRepo struct {
	records   []*models.PaymentRecord
	updateErr error
	updates   int
}

func (s *stubPaymentRepo) WithTx(*gorm.DB) payments.Repository { return s }
func (s *stubPaymentRepo) Create(_ context.Context, record *models.PaymentRecord) error {
	s.records = append(s.records, record)
	return nil
}
func (s *stubPaymentRepo) FindByTransactionID(_ context.Context, transactionID string) (*models.PaymentRecord, error) {
	if transactionID == "" {
		return nil, nil
	}
	for _, record := range s.records {
		if record.TransactionID == transactionID {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}
func (s *stubPaymentRepo) FindByReference(_ context.Context, reference string) (*models.PaymentRecord, error) {
	if reference == "" {
		return nil, nil
	}
	for _, record := range s.records {
		if record.Reference == reference {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}
func (s *stubPaymentRepo) FindOpenByAmountAndPhone(_ context.Context, amount decimal.Decimal, phoneNumber string) (*models.PaymentRecord, error) {
	for _, record := range s.records {
		open := record.Status == enums.PaymentStatusPending || record.Status == enums.PaymentStatusProcessing
		if open && record.PhoneNumber == phoneNumber && record.Amount.Equal(amount) {
			copied := *record
			return &copied, nil
		}
	}
	return nil, nil
}
func (s *stubPaymentRepo) ListByBatch(context.Context, string) ([]models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPaymentRepo) ListFailedByBatch(context.Context, string) ([]models.PaymentRecord, error) {
	return nil, nil
}
func (s *stubPaymentRepo) ListOpenByProvider(_ context.Context, provider enums.Provider) ([]models.PaymentRecord, error) {
	var out []models.PaymentRecord
	for _, record := range s.records {
		open := record.Status == enums.PaymentStatusPending || record.Status == enums.PaymentStatusProcessing
		if open && record.Provider == provider && record.TransactionID != "" {
			out = append(out, *record)
		}
	}
	return out, nil
}
func (s *stubPaymentRepo) UpdateWithVersion(_ context.Context, record *models.PaymentRecord, expected int64) (bool, error) {
	s.updates++
	if s.updateErr != nil {
		return false, s.updateErr
	}
	for i, existing := range s.records {
		if existing.ID == record.ID {
			if existing.Version != expected {
				return false, nil
			}
			record.Version = expected + 1
			s.records[i] = record
			return true, nil
		}
	}
	return false, nil
}

type outcomeMove struct {
	batchID string
	from    enums.PaymentStatus
	to      enums.PaymentStatus
}

type stubBatchRepo struct {
	moves     []outcomeMove
	finalized []string
}

func (s *stubBatchRepo) WithTx(*gorm.DB) batches.Repository { return s }
func (s *stubBatchRepo) Create(context.Context, *models.BatchRecord) error {
	return nil
}
func (s *stubBatchRepo) Find(context.Context, string) (*models.BatchRecord, error) {
	return nil, nil
}
func (s *stubBatchRepo) Claim(context.Context, string) (bool, error) { return false, nil }
func (s *stubBatchRepo) ExistsRentRunForMonth(context.Context, string) (bool, error) {
	return false, nil
}
func (s *stubBatchRepo) SetResult(context.Context, string, string) error   { return nil }
func (s *stubBatchRepo) Fail(context.Context, string, string) error        { return nil }
func (s *stubBatchRepo) IncrementRetryCount(context.Context, string) error { return nil }
func (s *stubBatchRepo) ApplyOutcome(_ context.Context, batchID string, from, to enums.PaymentStatus) error {
	s.moves = append(s.moves, outcomeMove{batchID: batchID, from: from, to: to})
	return nil
}
func (s *stubBatchRepo) Finalize(_ context.Context, batchID string) (bool, error) {
	s.finalized = append(s.finalized, batchID)
	return false, nil
}

type fakeAdapter struct {
	id        enums.Provider
	caps      providers.Capabilities
	verifyErr error
	callback  providers.WebhookCallback
	parseErr  error
}

func (f *fakeAdapter) ID() enums.Provider                   { return f.id }
func (f *fakeAdapter) Capabilities() providers.Capabilities { return f.caps }
func (f *fakeAdapter) SendPayment(context.Context, providers.PaymentRequest) (providers.PaymentResponse, error) {
	return providers.PaymentResponse{}, nil
}
func (f *fakeAdapter) GetStatus(context.Context, string) (providers.PaymentResponse, error) {
	return providers.PaymentResponse{}, nil
}
func (f *fakeAdapter) VerifyCallback([]byte, string) error { return f.verifyErr }
func (f *fakeAdapter) ParseCallback([]byte) (providers.WebhookCallback, error) {
	return f.callback, f.parseErr
}
func (f *fakeAdapter) GetBalance(context.Context) (providers.Balance, error) {
	return providers.Balance{}, nil
}
func (f *fakeAdapter) HealthCheck(context.Context) error { return nil }

type recordingNotifier struct {
	sent chan string
}

func (r *recordingNotifier) Send(_ context.Context, phoneNumber, _ string) error {
	r.sent <- phoneNumber
	return nil
}

func newTestService(t *testing.T, adapter *fakeAdapter, paymentRepo *stubPaymentRepo, batchRepo *stubBatchRepo, store *memIdempotencyStore) *Service {
	t.Helper()

	var guard *IdempotencyGuard
	if store != nil {
		var err error
		guard, err = NewIdempotencyGuard(store, time.Hour, "webhook")
		if err != nil {
			t.Fatalf("NewIdempotencyGuard: %v", err)
		}
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Providers: providers.NewRegistry(adapter),
		Payments:  paymentRepo,
		Batches:   batchRepo,
		Tx:        stubTx{},
		Guard:     guard,
		Logger:    logg,
		Metrics:   metrics.NewPaymentMetrics(nil),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func pendingRecord(batchID string) *models.PaymentRecord {
	return &models.PaymentRecord{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Amount:      decimal.NewFromInt(15000),
		Method:      enums.PaymentMethodMobileMoney,
		Status:      enums.PaymentStatusProcessing,
		Provider:    enums.ProviderMpesa,
		Reference:   batchID + "-0001",
		PhoneNumber: "254701234567",
		Notes:       payments.BatchTag(batchID) + " rent for 2026-08",
		Version:     1,
	}
}

func completedCallback(record *models.PaymentRecord) providers.WebhookCallback {
	completedAt := time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)
	return providers.WebhookCallback{
		TransactionID: "MPESA-TX-1",
		Reference:     record.Reference,
		Status:        enums.PaymentStatusCompleted,
		Amount:        record.Amount,
		PhoneNumber:   record.PhoneNumber,
		ReceiptNumber: "SAB12CD34E",
		CompletedAt:   &completedAt,
		Provider:      enums.ProviderMpesa,
	}
}

func TestProcessRejectsUnverifiedCallback(t *testing.T) {
	paymentRepo := &stubPaymentRepo{}
	adapter := &fakeAdapter{
		id:        enums.ProviderMpesa,
		caps:      providers.Capabilities{WebhookDelivery: true},
		verifyErr: errors.New("signature mismatch"),
	}
	svc := newTestService(t, adapter, paymentRepo, &stubBatchRepo{}, newMemIdempotencyStore())

	_, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "bad")
	if err == nil {
		t.Fatal("expected verification error")
	}
	if paymentRepo.updates != 0 || len(paymentRepo.records) != 0 {
		t.Fatal("unverified callback must not touch the ledger")
	}
}

func TestProcessAppliesCompletionAndMovesBatchCounters(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	batchRepo := &stubBatchRepo{}
	adapter := &fakeAdapter{
		id:       enums.ProviderMpesa,
		caps:     providers.Capabilities{WebhookDelivery: true},
		callback: completedCallback(record),
	}
	svc := newTestService(t, adapter, paymentRepo, batchRepo, newMemIdempotencyStore())

	result, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("Outcome = %s, want applied", result.Outcome)
	}
	if result.BatchID != "RENT-2026-08-abc12345" {
		t.Fatalf("BatchID = %q, want batch from notes tag", result.BatchID)
	}

	updated := paymentRepo.records[0]
	if updated.Status != enums.PaymentStatusCompleted {
		t.Fatalf("Status = %s, want completed", updated.Status)
	}
	if updated.ReceiptNumber != "SAB12CD34E" {
		t.Fatalf("ReceiptNumber = %q", updated.ReceiptNumber)
	}
	if updated.PaidAt == nil || !updated.PaidAt.Equal(time.Date(2026, 8, 5, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("PaidAt = %v, want callback completion time", updated.PaidAt)
	}
	if !strings.Contains(updated.Notes, "[webhook] mpesa reported completed") {
		t.Fatalf("Notes = %q, want audit line", updated.Notes)
	}

	if len(batchRepo.moves) != 1 {
		t.Fatalf("ApplyOutcome calls = %d, want 1", len(batchRepo.moves))
	}
	move := batchRepo.moves[0]
	if move.batchID != result.BatchID || move.from != enums.PaymentStatusProcessing || move.to != enums.PaymentStatusCompleted {
		t.Fatalf("unexpected counter move: %+v", move)
	}
	if len(batchRepo.finalized) != 1 {
		t.Fatalf("Finalize calls = %d, want 1", len(batchRepo.finalized))
	}
}

func TestProcessDuplicateDeliveryShortCircuits(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	adapter := &fakeAdapter{
		id:       enums.ProviderMpesa,
		caps:     providers.Capabilities{WebhookDelivery: true},
		callback: completedCallback(record),
	}
	svc := newTestService(t, adapter, paymentRepo, &stubBatchRepo{}, newMemIdempotencyStore())

	if _, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), ""); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	result, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("Outcome = %s, want duplicate", result.Outcome)
	}
	if paymentRepo.updates != 1 {
		t.Fatalf("ledger updates = %d, want 1", paymentRepo.updates)
	}
}

func TestProcessReplayAfterRedisFlushIsStale(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	adapter := &fakeAdapter{
		id:       enums.ProviderMpesa,
		caps:     providers.Capabilities{WebhookDelivery: true},
		callback: completedCallback(record),
	}
	svc := newTestService(t, adapter, paymentRepo, &stubBatchRepo{}, newMemIdempotencyStore())

	if _, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), ""); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	// Same settling callback again with no redis memory of it: the row is
	// terminal in the same status, so it reads as a duplicate, not a change.
	fresh := newTestService(t, adapter, paymentRepo, &stubBatchRepo{}, newMemIdempotencyStore())
	result, err := fresh.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if result.Outcome != OutcomeDuplicate {
		t.Fatalf("Outcome = %s, want duplicate", result.Outcome)
	}
}

func TestProcessGuardFailureStillApplies(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	store := newMemIdempotencyStore()
	store.setErr = errors.New("redis down")
	adapter := &fakeAdapter{
		id:       enums.ProviderMpesa,
		caps:     providers.Capabilities{WebhookDelivery: true},
		callback: completedCallback(record),
	}
	svc := newTestService(t, adapter, paymentRepo, &stubBatchRepo{}, store)

	result, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("Outcome = %s, want applied despite redis outage", result.Outcome)
	}
}

func TestProcessReleasesMarkerOnFailure(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	paymentRepo.updateErr = errors.New("deadlock")
	store := newMemIdempotencyStore()
	adapter := &fakeAdapter{
		id:       enums.ProviderMpesa,
		caps:     providers.Capabilities{WebhookDelivery: true},
		callback: completedCallback(record),
	}
	svc := newTestService(t, adapter, paymentRepo, &stubBatchRepo{}, store)

	if _, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), ""); err == nil {
		t.Fatal("expected transaction failure")
	}
	if len(store.keys) != 0 {
		t.Fatal("marker must be released so the redelivery can apply")
	}

	// The provider redelivers; this time the transaction succeeds.
	paymentRepo.updateErr = nil
	result, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("Outcome = %s, want applied", result.Outcome)
	}
}

func TestProcessUnmatchedCallbackCreatesOrphan(t *testing.T) {
	paymentRepo := &stubPaymentRepo{}
	adapter := &fakeAdapter{
		id:   enums.ProviderMpesa,
		caps: providers.Capabilities{WebhookDelivery: true},
		callback: providers.WebhookCallback{
			TransactionID: "MPESA-TX-UNKNOWN",
			Status:        enums.PaymentStatusCompleted,
			Amount:        decimal.NewFromInt(9000),
			PhoneNumber:   "254711111111",
			ReceiptNumber: "SXY99ZZ88A",
			Provider:      enums.ProviderMpesa,
		},
	}
	svc := newTestService(t, adapter, paymentRepo, &stubBatchRepo{}, newMemIdempotencyStore())

	result, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != OutcomeOrphan {
		t.Fatalf("Outcome = %s, want orphan", result.Outcome)
	}
	if len(paymentRepo.records) != 1 {
		t.Fatalf("records = %d, want 1 orphan row", len(paymentRepo.records))
	}
	orphan := paymentRepo.records[0]
	if !strings.Contains(orphan.Notes, "[orphan]") {
		t.Fatalf("Notes = %q, want orphan flag", orphan.Notes)
	}
	if orphan.PaidAt == nil {
		t.Fatal("completed orphan must carry PaidAt")
	}
}

func TestProcessFailureCallbackRecordsReason(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	batchRepo := &stubBatchRepo{}
	adapter := &fakeAdapter{
		id:   enums.ProviderMpesa,
		caps: providers.Capabilities{WebhookDelivery: true},
		callback: providers.WebhookCallback{
			TransactionID: "MPESA-TX-2",
			Reference:     record.Reference,
			Status:        enums.PaymentStatusFailed,
			FailureReason: "Request cancelled by user",
			Provider:      enums.ProviderMpesa,
		},
	}
	svc := newTestService(t, adapter, paymentRepo, batchRepo, newMemIdempotencyStore())

	result, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("Outcome = %s, want applied", result.Outcome)
	}

	updated := paymentRepo.records[0]
	if updated.Status != enums.PaymentStatusFailed {
		t.Fatalf("Status = %s, want failed", updated.Status)
	}
	if updated.FailureReason == nil || *updated.FailureReason != "Request cancelled by user" {
		t.Fatalf("FailureReason = %v", updated.FailureReason)
	}
	if updated.PaidAt != nil {
		t.Fatal("failed payment must not carry PaidAt")
	}
	if len(batchRepo.moves) != 1 || batchRepo.moves[0].to != enums.PaymentStatusFailed {
		t.Fatalf("unexpected counter moves: %+v", batchRepo.moves)
	}
}

func TestReconcileAppliesPolledOutcome(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	record.Provider = enums.ProviderPesalink
	record.TransactionID = "PL-TX-1"
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	batchRepo := &stubBatchRepo{}
	// No webhook delivery on this rail; the outcome arrives via polling.
	adapter := &fakeAdapter{id: enums.ProviderPesalink, caps: providers.Capabilities{B2C: true}}
	svc := newTestService(t, adapter, paymentRepo, batchRepo, nil)

	result, err := svc.Reconcile(context.Background(), providers.WebhookCallback{
		TransactionID: record.TransactionID,
		Reference:     record.Reference,
		Status:        enums.PaymentStatusCompleted,
		Amount:        record.Amount,
		PhoneNumber:   record.PhoneNumber,
		Provider:      enums.ProviderPesalink,
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if result.Outcome != OutcomeApplied {
		t.Fatalf("Outcome = %s, want applied", result.Outcome)
	}

	updated := paymentRepo.records[0]
	if updated.Status != enums.PaymentStatusCompleted {
		t.Fatalf("Status = %s, want completed", updated.Status)
	}
	if len(batchRepo.moves) != 1 || batchRepo.moves[0].to != enums.PaymentStatusCompleted {
		t.Fatalf("unexpected counter moves: %+v", batchRepo.moves)
	}
	if len(batchRepo.finalized) != 1 {
		t.Fatalf("Finalize calls = %d, want 1", len(batchRepo.finalized))
	}

	// Polling the same terminal row again changes nothing.
	again, err := svc.Reconcile(context.Background(), providers.WebhookCallback{
		TransactionID: record.TransactionID,
		Status:        enums.PaymentStatusCompleted,
		Provider:      enums.ProviderPesalink,
	})
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if again.Outcome != OutcomeDuplicate {
		t.Fatalf("Outcome = %s, want duplicate", again.Outcome)
	}
}

func TestProcessSendsConfirmationOnCompletion(t *testing.T) {
	record := pendingRecord("RENT-2026-08-abc12345")
	paymentRepo := &stubPaymentRepo{records: []*models.PaymentRecord{record}}
	notifier := &recordingNotifier{sent: make(chan string, 1)}
	adapter := &fakeAdapter{
		id:       enums.ProviderMpesa,
		caps:     providers.Capabilities{WebhookDelivery: true},
		callback: completedCallback(record),
	}

	logg := logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
	svc, err := NewService(ServiceParams{
		Providers: providers.NewRegistry(adapter),
		Payments:  paymentRepo,
		Batches:   &stubBatchRepo{},
		Tx:        stubTx{},
		Notifier:  notifier,
		Logger:    logg,
		Metrics:   metrics.NewPaymentMetrics(nil),
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	if _, err := svc.Process(context.Background(), enums.ProviderMpesa, []byte(`{}`), ""); err != nil {
		t.Fatalf("Process: %v", err)
	}

	select {
	case phoneNumber := <-notifier.sent:
		if phoneNumber != record.PhoneNumber {
			t.Fatalf("confirmation sent to %s, want %s", phoneNumber, record.PhoneNumber)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("confirmation sms never sent")
	}
}
