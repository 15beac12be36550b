// Package tenants provides the read surface the orchestrator consumes from
// the wider platform. Tenant CRUD lives outside this service.
package tenants

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/enums"
)

// Repository handles tenant reads.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ListEligible(ctx context.Context, query EligibleQuery) ([]models.Tenant, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	FindByPhone(ctx context.Context, phoneNumber string) (*models.Tenant, error)
}

// EligibleQuery narrows the set of tenants considered for a collection run.
type EligibleQuery struct {
	IncludeIDs []uuid.UUID
	ExcludeIDs []uuid.UUID
	MinRent    *decimal.Decimal
	MaxRent    *decimal.Decimal
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a tenant repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// ListEligible returns active tenants with an assigned room, filtered by the
// query. Rent bounds apply to the room's rent amount.
func (r *repository) ListEligible(ctx context.Context, query EligibleQuery) ([]models.Tenant, error) {
	q := r.db.WithContext(ctx).
		Model(&models.Tenant{}).
		Joins("JOIN rooms ON rooms.id = tenants.room_id").
		Where("tenants.status = ?", enums.TenantStatusActive).
		Where("tenants.room_id IS NOT NULL")

	if len(query.IncludeIDs) > 0 {
		q = q.Where("tenants.id IN (?)", query.IncludeIDs)
	}
	if len(query.ExcludeIDs) > 0 {
		q = q.Where("tenants.id NOT IN (?)", query.ExcludeIDs)
	}
	if query.MinRent != nil {
		q = q.Where("rooms.rent_amount >= ?", *query.MinRent)
	}
	if query.MaxRent != nil {
		q = q.Where("rooms.rent_amount <= ?", *query.MaxRent)
	}

	var out []models.Tenant
	if err := q.Preload("Room").Order("tenants.created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Preload("Room").
		Where("id = ?", id).
		First(&tenant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}

func (r *repository) FindByPhone(ctx context.Context, phoneNumber string) (*models.Tenant, error) {
	if phoneNumber == "" {
		return nil, nil
	}
	var tenant models.Tenant
	if err := r.db.WithContext(ctx).
		Preload("Room").
		Where("phone_number = ?", phoneNumber).
		First(&tenant).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &tenant, nil
}
