// Package payments persists the payment ledger. Rows are created once per
// attempt and updated in place by webhook reconciliation; they are never
// deleted.
package payments

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

// BatchTag returns the marker embedded in a record's notes that links it to
// a batch run.
func BatchTag(batchID string) string {
	return "[batch:" + batchID + "]"
}

// Repository handles payment ledger persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.PaymentRecord) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error)
	FindByReference(ctx context.Context, reference string) (*models.PaymentRecord, error)
	FindOpenByAmountAndPhone(ctx context.Context, amount decimal.Decimal, phoneNumber string) (*models.PaymentRecord, error)
	ListByBatch(ctx context.Context, batchID string) ([]models.PaymentRecord, error)
	ListFailedByBatch(ctx context.Context, batchID string) ([]models.PaymentRecord, error)
	ListOpenByProvider(ctx context.Context, provider enums.Provider) ([]models.PaymentRecord, error)
	UpdateWithVersion(ctx context.Context, record *models.PaymentRecord, expectedVersion int64) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a payment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.PaymentRecord) error {
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	if transactionID == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindByReference(ctx context.Context, reference string) (*models.PaymentRecord, error) {
	if reference == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// FindOpenByAmountAndPhone is the last-resort correlation heuristic. It only
// considers records still awaiting an outcome so a replayed callback can
// never be matched against an already settled row.
func (r *repository) FindOpenByAmountAndPhone(ctx context.Context, amount decimal.Decimal, phoneNumber string) (*models.PaymentRecord, error) {
	if phoneNumber == "" {
		return nil, nil
	}
	var record models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("amount = ? AND phone_number = ?", amount, phoneNumber).
		Where("status IN (?)", []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

func (r *repository) ListByBatch(ctx context.Context, batchID string) ([]models.PaymentRecord, error) {
	var records []models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("notes LIKE ?", "%"+BatchTag(batchID)+"%").
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repository) ListFailedByBatch(ctx context.Context, batchID string) ([]models.PaymentRecord, error) {
	var records []models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("notes LIKE ?", "%"+BatchTag(batchID)+"%").
		Where("status = ?", enums.PaymentStatusFailed).
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// ListOpenByProvider returns dispatched rows still awaiting an outcome for
// one provider. Rows without a transaction id never left the gateway, so
// there is nothing to poll for them.
func (r *repository) ListOpenByProvider(ctx context.Context, provider enums.Provider) ([]models.PaymentRecord, error) {
	var records []models.PaymentRecord
	if err := r.db.WithContext(ctx).
		Where("provider = ?", provider).
		Where("status IN (?)", []enums.PaymentStatus{enums.PaymentStatusPending, enums.PaymentStatusProcessing}).
		Where("transaction_id <> ''").
		Order("created_at ASC").
		Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateWithVersion persists the record only if nobody else updated it since
// it was loaded. Returns false when the version check lost the race; the
// caller reloads and decides whether to retry.
func (r *repository) UpdateWithVersion(ctx context.Context, record *models.PaymentRecord, expectedVersion int64) (bool, error) {
	record.UpdatedAt = time.Now().UTC()
	record.Version = expectedVersion + 1

	result := r.db.WithContext(ctx).
		Model(&models.PaymentRecord{}).
		Where("id = ? AND version = ?", record.ID, expectedVersion).
		Updates(map[string]any{
			"status":         record.Status,
			"transaction_id": record.TransactionID,
			"receipt_number": record.ReceiptNumber,
			"failure_reason": record.FailureReason,
			"paid_at":        record.PaidAt,
			"notes":          record.Notes,
			"version":        record.Version,
			"updated_at":     record.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}
