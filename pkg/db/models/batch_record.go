package models

import (
	"time"

	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

// BatchRecord tracks one orchestration run over many tenants.
// PendingPayments is seeded to TotalPayments at creation and drained one
// unit at a time as payments reach terminal outcomes, so it can only hit
// zero once every payment has settled.
type BatchRecord struct {
	ID                 string              `gorm:"column:id;primaryKey"`
	Type               enums.BatchType     `gorm:"column:type;type:varchar(32);not null"`
	Provider           enums.Provider      `gorm:"column:provider;type:varchar(16);not null"`
	Month              string              `gorm:"column:month;type:varchar(7);not null"`
	Status             enums.BatchStatus   `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	TotalPayments      int                 `gorm:"column:total_payments;not null;default:0"`
	SuccessfulPayments int                 `gorm:"column:successful_payments;not null;default:0"`
	FailedPayments     int                 `gorm:"column:failed_payments;not null;default:0"`
	PendingPayments    int                 `gorm:"column:pending_payments;not null;default:0"`
	RetryCount         int                 `gorm:"column:retry_count;not null;default:0"`
	Priority           enums.BatchPriority `gorm:"column:priority;type:varchar(16);not null;default:'normal'"`
	TestMode           bool                `gorm:"column:test_mode;not null;default:false"`
	Result             string              `gorm:"column:result;type:text"`
	StartedAt          *time.Time          `gorm:"column:started_at"`
	CompletedAt        *time.Time          `gorm:"column:completed_at"`
	CreatedAt          time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
