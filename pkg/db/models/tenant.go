package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

// Tenant is the read surface the engine consumes from the wider platform.
// Tenant CRUD lives outside this service.
type Tenant struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	FirstName   string             `gorm:"column:first_name;not null"`
	LastName    string             `gorm:"column:last_name;not null"`
	PhoneNumber string             `gorm:"column:phone_number;not null"`
	Status      enums.TenantStatus `gorm:"column:status;type:varchar(16);not null;default:'active'"`
	RoomID      *uuid.UUID         `gorm:"column:room_id;type:uuid"`
	Room        *Room              `gorm:"foreignKey:RoomID"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
