package batches

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

func setupBatchesTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	batchRecords := `
CREATE TABLE IF NOT EXISTS batch_records (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  provider TEXT NOT NULL,
  month TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  total_payments INTEGER NOT NULL DEFAULT 0,
  successful_payments INTEGER NOT NULL DEFAULT 0,
  failed_payments INTEGER NOT NULL DEFAULT 0,
  pending_payments INTEGER NOT NULL DEFAULT 0,
  retry_count INTEGER NOT NULL DEFAULT 0,
  priority TEXT NOT NULL DEFAULT 'normal',
  test_mode INTEGER NOT NULL DEFAULT 0,
  result TEXT,
  started_at DATETIME,
  completed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`
	require.NoError(t, db.Exec(batchRecords).Error)

	t.Cleanup(func() {
		db.Exec("DELETE FROM batch_records")
	})
	return db
}

func seedBatch(t *testing.T, repo Repository, mutate func(*models.BatchRecord)) *models.BatchRecord {
	t.Helper()

	batch := &models.BatchRecord{
		ID:            "RENT-2026-08-" + uuid.NewString()[:8],
		Type:          enums.BatchTypeRentCollection,
		Provider:      enums.ProviderMpesa,
		Month:         "2026-08",
		Status:        enums.BatchStatusPending,
		TotalPayments: 5,
		Priority:      enums.BatchPriorityNormal,
	}
	if mutate != nil {
		mutate(batch)
	}
	require.NoError(t, repo.Create(context.Background(), batch))
	return batch
}

func TestClaimIsSingleWinner(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, repo, nil)

	claimed, err := repo.Claim(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := repo.Claim(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, again)

	persisted, err := repo.Find(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, enums.BatchStatusProcessing, persisted.Status)
	assert.NotNil(t, persisted.StartedAt)
}

func TestExistsRentRunForMonthIgnoresRetries(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	exists, err := repo.ExistsRentRunForMonth(ctx, "2026-07")
	require.NoError(t, err)
	assert.False(t, exists)

	seedBatch(t, repo, func(b *models.BatchRecord) {
		b.Month = "2026-07"
		b.Type = enums.BatchTypeRetry
	})
	exists, err = repo.ExistsRentRunForMonth(ctx, "2026-07")
	require.NoError(t, err)
	assert.False(t, exists, "retry batches must not count as the monthly run")

	seedBatch(t, repo, func(b *models.BatchRecord) {
		b.Month = "2026-07"
	})
	exists, err = repo.ExistsRentRunForMonth(ctx, "2026-07")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestApplyOutcomeMovesCounters(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, repo, func(b *models.BatchRecord) {
		b.Status = enums.BatchStatusProcessing
		b.PendingPayments = 3
		b.FailedPayments = 1
	})

	// Webhook settles a dispatched payment.
	require.NoError(t, repo.ApplyOutcome(ctx, batch.ID, enums.PaymentStatusProcessing, enums.PaymentStatusCompleted))
	// Another dispatched payment fails.
	require.NoError(t, repo.ApplyOutcome(ctx, batch.ID, enums.PaymentStatusProcessing, enums.PaymentStatusFailed))
	// A correction moves a failed payment to completed.
	require.NoError(t, repo.ApplyOutcome(ctx, batch.ID, enums.PaymentStatusFailed, enums.PaymentStatusCompleted))

	persisted, err := repo.Find(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, 1, persisted.PendingPayments)
	assert.Equal(t, 2, persisted.SuccessfulPayments)
	assert.Equal(t, 1, persisted.FailedPayments)
}

func TestFinalizeRequiresDrainedPending(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, repo, func(b *models.BatchRecord) {
		b.Status = enums.BatchStatusProcessing
		b.PendingPayments = 1
	})

	done, err := repo.Finalize(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, done, "batch with pending payments must not complete")

	require.NoError(t, repo.ApplyOutcome(ctx, batch.ID, enums.PaymentStatusProcessing, enums.PaymentStatusCompleted))

	done, err = repo.Finalize(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, done)

	// Finalizing again is a no-op.
	done, err = repo.Finalize(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, done)

	persisted, err := repo.Find(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, enums.BatchStatusCompleted, persisted.Status)
	assert.NotNil(t, persisted.CompletedAt)
}

func TestSetResultPreservesConcurrentCounterMoves(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, repo, func(b *models.BatchRecord) {
		b.Status = enums.BatchStatusProcessing
		b.TotalPayments = 2
		b.PendingPayments = 2
	})

	// A callback settles one payment while the orchestrator is still
	// dispatching the other.
	require.NoError(t, repo.ApplyOutcome(ctx, batch.ID, enums.PaymentStatusProcessing, enums.PaymentStatusCompleted))
	done, err := repo.Finalize(ctx, batch.ID)
	require.NoError(t, err)
	assert.False(t, done, "batch must not complete with a payment outstanding")

	// End-of-run bookkeeping writes the summary only; the callback's
	// counter move and the processing status must survive it.
	require.NoError(t, repo.SetResult(ctx, batch.ID, `{"dispatched":2}`))

	persisted, err := repo.Find(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, enums.BatchStatusProcessing, persisted.Status)
	assert.Equal(t, 1, persisted.SuccessfulPayments)
	assert.Equal(t, 1, persisted.PendingPayments)
	assert.Equal(t, `{"dispatched":2}`, persisted.Result)

	// The second payment settles and the batch completes normally.
	require.NoError(t, repo.ApplyOutcome(ctx, batch.ID, enums.PaymentStatusProcessing, enums.PaymentStatusCompleted))
	done, err = repo.Finalize(ctx, batch.ID)
	require.NoError(t, err)
	assert.True(t, done)
}

func TestFailClosesOnlyProcessingBatches(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, repo, func(b *models.BatchRecord) {
		b.Status = enums.BatchStatusProcessing
		b.TotalPayments = 0
	})
	require.NoError(t, repo.Fail(ctx, batch.ID, `{"message":"nothing to dispatch"}`))

	persisted, err := repo.Find(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, enums.BatchStatusFailed, persisted.Status)
	assert.NotNil(t, persisted.CompletedAt)

	// Terminal rows never move again.
	require.NoError(t, repo.Fail(ctx, batch.ID, `{"message":"again"}`))
	persisted, err = repo.Find(ctx, batch.ID)
	require.NoError(t, err)
	assert.Equal(t, `{"message":"nothing to dispatch"}`, persisted.Result)
}

func TestIncrementRetryCount(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	batch := seedBatch(t, repo, nil)
	require.NoError(t, repo.IncrementRetryCount(ctx, batch.ID))
	require.NoError(t, repo.IncrementRetryCount(ctx, batch.ID))

	persisted, err := repo.Find(ctx, batch.ID)
	require.NoError(t, err)
	require.NotNil(t, persisted)
	assert.Equal(t, 2, persisted.RetryCount)
}

func TestFindMissingBatchReturnsNil(t *testing.T) {
	db := setupBatchesTestDB(t)
	repo := NewRepository(db)

	batch, err := repo.Find(context.Background(), "RENT-2026-01-missing")
	require.NoError(t, err)
	assert.Nil(t, batch)
}
