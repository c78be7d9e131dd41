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

const defaultSweepBatchSize = 250

// overdueEnrollmentStore is the slice of the enrollments repository the
// enforcement sweep reads and writes.
type overdueEnrollmentStore interface {
	ListOverdueWithAccess(ctx context.Context, now time.Time, afterID uuid.UUID, limit int) ([]models.Enrollment, error)
	UpdateAccess(ctx context.Context, id uuid.UUID, hasAccess bool) error
}

// OverdueEnforcementJobParams configure the nightly access revocation sweep.
type OverdueEnforcementJobParams struct {
	Logger    *logger.Logger
	Store     overdueEnrollmentStore
	Metrics   *metrics.CronJobMetrics
	Schedule  string
	BatchSize int
	Now       func() time.Time
}

// NewOverdueEnforcementJob builds the sweep that closes course access on
// enrollments whose installment clock has run out. The job only ever revokes;
// access is re-granted exclusively by a registered payment.
func NewOverdueEnforcementJob(params OverdueEnforcementJobParams) (Job, error) {
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
	return &overdueEnforcementJob{
		logg:      params.Logger,
		store:     params.Store,
		metrics:   params.Metrics,
		schedule:  params.Schedule,
		batchSize: params.BatchSize,
		now:       params.Now,
	}, nil
}

type overdueEnforcementJob struct {
	logg      *logger.Logger
	store     overdueEnrollmentStore
	metrics   *metrics.CronJobMetrics
	schedule  string
	batchSize int
	now       func() time.Time
}

func (j *overdueEnforcementJob) Name() string     { return "overdue-enforcement" }
func (j *overdueEnforcementJob) Schedule() string { return j.schedule }

func (j *overdueEnforcementJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var (
		evaluated int
		revoked   int
		errCount  int
		errs      error
		afterID   uuid.UUID
	)

	for {
		batch, err := j.store.ListOverdueWithAccess(ctx, now, afterID, j.batchSize)
		if err != nil {
			return fmt.Errorf("listing overdue enrollments: %w", err)
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID

		for _, enrollment := range batch {
			evaluated++
			if enrollments.ShouldHaveAccess(enrollment, now) {
				continue
			}
			if err := j.store.UpdateAccess(ctx, enrollment.ID, false); err != nil {
				errCount++
				errs = multierr.Append(errs, fmt.Errorf("enrollment %s: %w", enrollment.ID, err))
				continue
			}
			revoked++
			itemCtx := j.logg.WithEnrollmentID(ctx, enrollment.ID.String())
			itemCtx = j.logg.WithFields(itemCtx, map[string]any{
				"user_id":      enrollment.UserID,
				"course_id":    enrollment.CourseID,
				"days_overdue": enrollments.DaysOverdue(enrollment, now),
			})
			j.logg.Info(itemCtx, "course access revoked for overdue installment")
		}

		if len(batch) < j.batchSize {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"evaluated": evaluated,
		"revoked":   revoked,
		"errors":    errCount,
	})
	j.logg.Info(logCtx, "overdue enforcement sweep complete")

	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), "evaluated", evaluated)
		j.metrics.AddProcessed(j.Name(), "revoked", revoked)
		j.metrics.AddProcessed(j.Name(), "errored", errCount)
	}

	if errCount > 0 {
		return fmt.Errorf("overdue enforcement: %d of %d enrollments failed: %w", errCount, evaluated, errs)
	}
	return nil
}
