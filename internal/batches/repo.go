package batches

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

// Repository handles batch run persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, batch *models.BatchRecord) error
	Find(ctx context.Context, id string) (*models.BatchRecord, error)
	Claim(ctx context.Context, id string) (bool, error)
	ExistsRentRunForMonth(ctx context.Context, month string) (bool, error)
	SetResult(ctx context.Context, id, result string) error
	Fail(ctx context.Context, id, result string) error
	IncrementRetryCount(ctx context.Context, id string) error
	ApplyOutcome(ctx context.Context, id string, from, to enums.PaymentStatus) error
	Finalize(ctx context.Context, id string) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a batch repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, batch *models.BatchRecord) error {
	return r.db.WithContext(ctx).Create(batch).Error
}

func (r *repository) Find(ctx context.Context, id string) (*models.BatchRecord, error) {
	if id == "" {
		return nil, nil
	}
	var batch models.BatchRecord
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&batch).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &batch, nil
}

// Claim flips a pending batch to processing in one statement. Returns false
// when another worker already claimed it.
func (r *repository) Claim(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.BatchRecord{}).
		Where("id = ? AND status = ?", id, enums.BatchStatusPending).
		Updates(map[string]any{
			"status":     enums.BatchStatusProcessing,
			"started_at": now,
			"updated_at": now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// ExistsRentRunForMonth reports whether a rent-collection batch was already
// created for the month. Retry batches do not count.
func (r *repository) ExistsRentRunForMonth(ctx context.Context, month string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&models.BatchRecord{}).
		Where("month = ? AND type = ?", month, enums.BatchTypeRentCollection).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// SetResult writes the run summary without touching status or counters.
// Counters only ever move through ApplyOutcome's single-statement deltas,
// so a webhook landing mid-run is never overwritten by a stale row image.
func (r *repository) SetResult(ctx context.Context, id, result string) error {
	return r.db.WithContext(ctx).
		Model(&models.BatchRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"result":     result,
			"updated_at": time.Now().UTC(),
		}).Error
}

// Fail closes a processing batch that produced no dispatchable work.
func (r *repository) Fail(ctx context.Context, id, result string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.BatchRecord{}).
		Where("id = ? AND status = ?", id, enums.BatchStatusProcessing).
		Updates(map[string]any{
			"status":       enums.BatchStatusFailed,
			"completed_at": now,
			"result":       result,
			"updated_at":   now,
		}).Error
}

func (r *repository) IncrementRetryCount(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).
		Model(&models.BatchRecord{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"updated_at":  time.Now().UTC(),
		}).Error
}

// ApplyOutcome moves one unit between the batch counters in a single
// statement, so concurrent webhook deliveries never read-modify-write the
// same row. A pending->completed outcome decrements pending and increments
// successful; from may be zero-valued for outcomes that only add.
func (r *repository) ApplyOutcome(ctx context.Context, id string, from, to enums.PaymentStatus) error {
	updates := map[string]any{"updated_at": time.Now().UTC()}

	switch from {
	case enums.PaymentStatusPending, enums.PaymentStatusProcessing:
		updates["pending_payments"] = gorm.Expr("pending_payments - 1")
	case enums.PaymentStatusFailed:
		updates["failed_payments"] = gorm.Expr("failed_payments - 1")
	case enums.PaymentStatusCompleted:
		updates["successful_payments"] = gorm.Expr("successful_payments - 1")
	}

	switch {
	case to == enums.PaymentStatusCompleted:
		updates["successful_payments"] = gorm.Expr("successful_payments + 1")
	case to.IsTerminal():
		updates["failed_payments"] = gorm.Expr("failed_payments + 1")
	default:
		updates["pending_payments"] = gorm.Expr("pending_payments + 1")
	}

	return r.db.WithContext(ctx).
		Model(&models.BatchRecord{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// Finalize completes a processing batch once no payments remain pending.
// Returns true when this call performed the transition.
func (r *repository) Finalize(ctx context.Context, id string) (bool, error) {
	now := time.Now().UTC()
	result := r.db.WithContext(ctx).
		Model(&models.BatchRecord{}).
		Where("id = ? AND status = ? AND pending_payments <= 0", id, enums.BatchStatusProcessing).
		Updates(map[string]any{
			"status":       enums.BatchStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
