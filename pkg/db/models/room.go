package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Room carries the rent amount charged per period.
type Room struct {
	ID         uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Number     string          `gorm:"column:number;not null"`
	PropertyID uuid.UUID       `gorm:"column:property_id;type:uuid;not null"`
	RentAmount decimal.Decimal `gorm:"column:rent_amount;type:numeric(12,2);not null"`
	CreatedAt  time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}
