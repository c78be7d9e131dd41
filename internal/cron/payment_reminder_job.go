package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/metrics"
)

// reminderEnrollmentStore is the slice of the enrollments repository the
// reminder sweep needs.
type reminderEnrollmentStore interface {
	ListActiveInstallments(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Enrollment, error)
	UpdateAccess(ctx context.Context, id uuid.UUID, hasAccess bool) error
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type reminderSender interface {
	SendReminder(ctx context.Context, user models.User, enrollment models.Enrollment, reminder enums.ReminderType, daysDelta int) error
}

// PaymentReminderJobParams configure the daily reminder sweep.
type PaymentReminderJobParams struct {
	Logger    *logger.Logger
	Store     reminderEnrollmentStore
	Notifier  reminderSender
	Metrics   *metrics.CronJobMetrics
	Schedule  string
	BatchSize int
	Now       func() time.Time
}

// NewPaymentReminderJob builds the sweep that nudges students ahead of an
// installment due date and weekly once it has passed. Every evaluated
// enrollment also gets its stored has_access flag reconciled with the live
// policy verdict, so the reminder and the lockout never disagree.
func NewPaymentReminderJob(params PaymentReminderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("enrollment store required")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("reminder sender required")
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
	return &paymentReminderJob{
		logg:      params.Logger,
		store:     params.Store,
		notifier:  params.Notifier,
		metrics:   params.Metrics,
		schedule:  params.Schedule,
		batchSize: params.BatchSize,
		now:       params.Now,
	}, nil
}

type paymentReminderJob struct {
	logg      *logger.Logger
	store     reminderEnrollmentStore
	notifier  reminderSender
	metrics   *metrics.CronJobMetrics
	schedule  string
	batchSize int
	now       func() time.Time
}

func (j *paymentReminderJob) Name() string     { return "payment-reminders" }
func (j *paymentReminderJob) Schedule() string { return j.schedule }

func (j *paymentReminderJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var (
		evaluated int
		sent      int
		skipped   int
		refreshed int
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
			// Reconcile the stored flag before deciding on the reminder so a
			// plan that lost the race with the nightly enforcement sweep is
			// closed even when no reminder is due today.
			want := enrollments.ShouldHaveAccess(enrollment, now)
			if want != enrollment.HasAccess {
				if err := j.store.UpdateAccess(ctx, enrollment.ID, want); err != nil {
					errCount++
					errs = multierr.Append(errs, fmt.Errorf("enrollment %s: refreshing access: %w", enrollment.ID, err))
					continue
				}
				enrollment.HasAccess = want
				refreshed++
			}
			reminder, daysDelta, due := reminderFor(enrollment, now)
			if !due {
				skipped++
				continue
			}
			if err := j.remind(ctx, enrollment, reminder, daysDelta); err != nil {
				errCount++
				errs = multierr.Append(errs, fmt.Errorf("enrollment %s: %w", enrollment.ID, err))
				continue
			}
			sent++
		}

		if len(batch) < j.batchSize {
			break
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"evaluated": evaluated,
		"sent":      sent,
		"skipped":   skipped,
		"refreshed": refreshed,
		"errors":    errCount,
	})
	j.logg.Info(logCtx, "payment reminder sweep complete")

	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), "evaluated", evaluated)
		j.metrics.AddProcessed(j.Name(), "sent", sent)
		j.metrics.AddProcessed(j.Name(), "skipped", skipped)
		j.metrics.AddProcessed(j.Name(), "refreshed", refreshed)
		j.metrics.AddProcessed(j.Name(), "errored", errCount)
	}

	if errCount > 0 {
		return fmt.Errorf("payment reminders: %d of %d enrollments failed: %w", errCount, evaluated, errs)
	}
	return nil
}

func (j *paymentReminderJob) remind(ctx context.Context, enrollment models.Enrollment, reminder enums.ReminderType, daysDelta int) error {
	user, err := j.store.FindUser(ctx, enrollment.UserID)
	if err != nil {
		return fmt.Errorf("loading user: %w", err)
	}
	if user == nil {
		return fmt.Errorf("user %s not found", enrollment.UserID)
	}
	if err := j.notifier.SendReminder(ctx, *user, enrollment, reminder, daysDelta); err != nil {
		return fmt.Errorf("sending %s reminder: %w", reminder, err)
	}

	itemCtx := j.logg.WithEnrollmentID(ctx, enrollment.ID.String())
	itemCtx = j.logg.WithFields(itemCtx, map[string]any{
		"reminder":   reminder.String(),
		"days_delta": daysDelta,
	})
	j.logg.Info(itemCtx, "payment reminder sent")
	return nil
}

// reminderFor maps an enrollment's due-date distance to the reminder cadence:
// advance nudges at 7, 3 and 1 days out, one on the due day itself, then one
// every 7th day overdue until the plan is settled or abandoned.
func reminderFor(enrollment models.Enrollment, now time.Time) (enums.ReminderType, int, bool) {
	days, ok := enrollments.DaysUntilDue(enrollment, now)
	if !ok {
		return "", 0, false
	}
	switch {
	case days == 7:
		return enums.ReminderSevenDayAdvance, days, true
	case days == 3:
		return enums.ReminderThreeDayAdvance, days, true
	case days == 1:
		return enums.ReminderOneDayAdvance, days, true
	case days == 0:
		return enums.ReminderDueToday, 0, true
	case days < 0:
		overdueDays := -days
		if overdueDays%7 == 0 {
			return enums.ReminderOverdueWeekly, overdueDays, true
		}
	}
	return "", 0, false
}
