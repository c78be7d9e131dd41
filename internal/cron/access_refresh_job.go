package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/metrics"
)

type refreshEnrollmentStore interface {
	ListActiveInstallments(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Enrollment, error)
	UpdateAccess(ctx context.Context, id uuid.UUID, hasAccess bool) error
}

// AccessRefreshJobParams configure the stored-flag reconciliation sweep.
type AccessRefreshJobParams struct {
	Logger    *logger.Logger
	Store     refreshEnrollmentStore
	Metrics   *metrics.CronJobMetrics
	Schedule  string
	BatchSize int
	Now       func() time.Time
}

// NewAccessRefreshJob builds the sweep that reconciles the stored has_access
// flag with the live policy verdict in both directions. It catches drift from
// missed sweeps or manual data fixes; the policy itself stays the only source
// of truth.
func NewAccessRefreshJob(params AccessRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("enrollment store required")
	}
	if params.Schedule == "" {
		return nil, fmt.Errorf("schedule required")
	}
	if params.BatchSize <= 0 {
		params.BatchSize = defaultSweepBatchSize
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &accessRefreshJob{
		logg:      params.Logger,
		store:     params.Store,
		metrics:   params.Metrics,
		schedule:  params.Schedule,
		batchSize: params.BatchSize,
		now:       params.Now,
	}, nil
}

type accessRefreshJob struct {
	logg      *logger.Logger
	store     refreshEnrollmentStore
	metrics   *metrics.CronJobMetrics
	schedule  string
	batchSize int
	now       func() time.Time
}

func (j *accessRefreshJob) Name() string     { return "access-refresh" }
func (j *accessRefreshJob) Schedule() string { return j.schedule }

func (j *accessRefreshJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var (
		evaluated int
		granted   int
		revoked   int
		errCount  int
		errs      error
		afterID   uuid.UUID
	)

	for {
		batch, err := j.store.ListActiveInstallments(ctx, afterID, j.batchSize)
		if err != nil {
			return fmt.Errorf("listing active installment plans: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		for _, enrollment := range batch {
			evaluated++
			want := enrollments.ShouldHaveAccess(enrollment, now)
			if want == enrollment.HasAccess {
				continue
			}
			if err := j.store.UpdateAccess(ctx, enrollment.ID, want); err != nil {
				errCount++
				errs = multierr.Append(errs, fmt.Errorf("enrollment %s: %w", enrollment.ID, err))
				continue
			}
			itemCtx := j.logg.WithEnrollmentID(ctx, enrollment.ID.String())
			if want {
				granted++
				j.logg.Info(itemCtx, "stored access flag corrected to granted")
			} else {
				revoked++
				j.logg.Info(itemCtx, "stored access flag corrected to revoked")
			}
		}

		if len(batch) < j.batchSize {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"evaluated": evaluated,
		"granted":   granted,
		"revoked":   revoked,
		"errors":    errCount,
	})
	j.logg.Info(logCtx, "access refresh sweep complete")

	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), "evaluated", evaluated)
		j.metrics.AddProcessed(j.Name(), "granted", granted)
		j.metrics.AddProcessed(j.Name(), "revoked", revoked)
		j.metrics.AddProcessed(j.Name(), "errored", errCount)
	}

	if errCount > 0 {
		return fmt.Errorf("access refresh: %d of %d enrollments failed: %w", errCount, evaluated, errs)
	}
	return nil
}
