package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

// PaymentRecord is the durable ledger entry for one payment attempt.
// One row is created per attempt, including invalid or failed ones; rows
// are updated in place by webhook reconciliation and never deleted.
type PaymentRecord struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TenantID      uuid.UUID           `gorm:"column:tenant_id;type:uuid;not null"`
	RoomID        *uuid.UUID          `gorm:"column:room_id;type:uuid"`
	Amount        decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null"`
	Method        enums.PaymentMethod `gorm:"column:method;type:varchar(32);not null;default:'mobile_money'"`
	Status        enums.PaymentStatus `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	Provider      enums.Provider      `gorm:"column:provider;type:varchar(16);not null"`
	TransactionID string              `gorm:"column:transaction_id;index"`
	Reference     string              `gorm:"column:reference;uniqueIndex;not null"`
	PhoneNumber   string              `gorm:"column:phone_number;index"`
	ReceiptNumber string              `gorm:"column:receipt_number"`
	FailureReason *string             `gorm:"column:failure_reason"`
	DueDate       time.Time           `gorm:"column:due_date"`
	PaidAt        *time.Time          `gorm:"column:paid_at"`
	Notes         string              `gorm:"column:notes;type:text"`
	Version       int64               `gorm:"column:version;not null;default:0"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
