package cron

import (
	"context"
	"time"

	"github.com/nyumbapay/nyumbapay-backend/internal/batches"
	"github.com/nyumbapay/nyumbapay-backend/pkg/config"
	"github.com/nyumbapay/nyumbapay-backend/pkg/db/models"
	"github.com/nyumbapay/nyumbapay-backend/pkg/logger"
)

// BatchRunner starts a rent-collection run.
type BatchRunner interface {
	Run(ctx context.Context, params batches.RunParams) (*models.BatchRecord, error)
}

// MonthChecker reports whether a rent run already exists for a month.
type MonthChecker interface {
	ExistsRentRunForMonth(ctx context.Context, month string) (bool, error)
}

// RentCollectionJob kicks off the monthly run on the configured day. The
// cron loop ticks daily; the job itself decides whether today is the day
// and whether this month already ran.
type RentCollectionJob struct {
	runner  BatchRunner
	checker MonthChecker
	cfg     config.CronConfig
	logg    *logger.Logger

	now func() time.Time
}

func NewRentCollectionJob(runner BatchRunner, checker MonthChecker, cfg config.CronConfig, logg *logger.Logger) *RentCollectionJob {
	return &RentCollectionJob{
		runner:  runner,
		checker: checker,
		cfg:     cfg,
		logg:    logg,
		now:     time.Now,
	}
}

func (j *RentCollectionJob) Name() string {
	return "rent_collection"
}

func (j *RentCollectionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	runDay := j.cfg.RentRunDay
	if runDay <= 0 {
		runDay = 1
	}
	if now.Day() != runDay {
		j.logg.Info(ctx, "not the rent run day, skipping")
		return nil
	}

	month := now.Format("2006-01")
	exists, err := j.checker.ExistsRentRunForMonth(ctx, month)
	if err != nil {
		return err
	}
	if exists {
		j.logg.Info(ctx, "rent run already exists for this month, skipping")
		return nil
	}

	batch, err := j.runner.Run(ctx, batches.RunParams{Month: month})
	if err != nil {
		return err
	}

	doneCtx := j.logg.WithBatchID(ctx, batch.ID)
	j.logg.Info(doneCtx, "scheduled rent collection started")
	return nil
}
