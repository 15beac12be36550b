package controllers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nyumbapay/nyumbapay-backend/api/responses"
	"github.com/nyumbapay/nyumbapay-backend/api/validators"
	"github.com/nyumbapay/nyumbapay-backend/internal/batches"
	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	pkgerrors "github.com/nyumbapay/nyumbapay-backend/pkg/errors"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
)

// BatchService is the orchestration surface the controllers call.
type BatchService interface {
	Run(ctx context.Context, params batches.RunParams) (*models.BatchRecord, error)
	Retry(ctx context.Context, batchID string) (*models.BatchRecord, error)
	Status(ctx context.Context, batchID string) (*batches.StatusView, error)
}

type runBatchRequest struct {
	Month            string           `json:"month" validate:"omitempty,len=7"`
	Provider         string           `json:"provider" validate:"omitempty,oneof=mpesa airtel pesalink"`
	TestMode         *bool            `json:"test_mode"`
	IncludeTenantIDs []string         `json:"include_tenant_ids" validate:"omitempty,dive,uuid"`
	ExcludeTenantIDs []string         `json:"exclude_tenant_ids" validate:"omitempty,dive,uuid"`
	MinRent          *decimal.Decimal `json:"min_rent"`
	MaxRent          *decimal.Decimal `json:"max_rent"`
}

// RunBatch starts a rent-collection run and returns the resulting batch.
func RunBatch(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req runBatchRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		include, err := parseUUIDs(req.IncludeTenantIDs)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		exclude, err := parseUUIDs(req.ExcludeTenantIDs)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		batch, err := svc.Run(ctx, batches.RunParams{
			Month:            req.Month,
			Provider:         req.Provider,
			TestMode:         req.TestMode,
			IncludeTenantIDs: include,
			ExcludeTenantIDs: exclude,
			MinRent:          req.MinRent,
			MaxRent:          req.MaxRent,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

// RetryBatch re-dispatches a batch's failed payments under a derived run.
func RetryBatch(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		batchID := chi.URLParam(r, "batchId")
		if batchID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "batch id is required"))
			return
		}

		batch, err := svc.Retry(ctx, batchID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, batch)
	}
}

// BatchStatus returns the batch with its completion percentage and the
// payments the run produced.
func BatchStatus(svc BatchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		batchID := chi.URLParam(r, "batchId")
		if batchID == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "batch id is required"))
			return
		}

		view, err := svc.Status(ctx, batchID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]uuid.UUID, 0, len(raw))
	for _, value := range raw {
		id, err := uuid.Parse(value)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid tenant id").
				WithDetails(map[string]any{"tenant_id": value})
		}
		out = append(out, id)
	}
	return out, nil
}
