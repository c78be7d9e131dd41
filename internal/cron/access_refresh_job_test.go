package cron

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

type fakeRefreshStore struct {
	rows    []models.Enrollment
	updates map[uuid.UUID]bool
}

func (f *fakeRefreshStore) ListActiveInstallments(_ context.Context, afterID uuid.UUID, limit int) ([]models.Enrollment, error) {
	return pageAfter(f.rows, afterID, limit), nil
}

func (f *fakeRefreshStore) UpdateAccess(_ context.Context, id uuid.UUID, hasAccess bool) error {
	if f.updates == nil {
		f.updates = map[uuid.UUID]bool{}
	}
	f.updates[id] = hasAccess
	return nil
}

func newRefreshJob(t *testing.T, store *fakeRefreshStore, now time.Time) Job {
	t.Helper()
	job, err := NewAccessRefreshJob(AccessRefreshJobParams{
		Logger:   logger.New(logger.Options{ServiceName: "cron-test"}),
		Store:    store,
		Schedule: "0 */6 * * *",
		Now:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewAccessRefreshJob: %v", err)
	}
	return job
}

func activePlan(now time.Time, dueInDays int, hasAccess bool) models.Enrollment {
	due := now.Add(time.Duration(dueInDays) * 24 * time.Hour)
	return models.Enrollment{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		PaymentType:       enums.PaymentTypeInstallment,
		PaymentStatus:     enums.PaymentStatusPending,
		TotalInstallments: 4,
		InstallmentsPaid:  1,
		InstallmentAmount: decimal.NewFromInt(100),
		HasAccess:         hasAccess,
		NextPaymentDue:    &due,
	}
}

func TestAccessRefreshReconcilesBothDirections(t *testing.T) {
	now := time.Date(2025, 5, 10, 6, 0, 0, 0, time.UTC)

	staleGrant := activePlan(now, -3, true)   // overdue but still open
	staleRevoke := activePlan(now, 10, false) // in good standing but closed
	correct := activePlan(now, 10, true)

	store := &fakeRefreshStore{rows: []models.Enrollment{staleGrant, staleRevoke, correct}}
	job := newRefreshJob(t, store, now)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got, ok := store.updates[staleGrant.ID]; !ok || got {
		t.Fatalf("overdue enrollment must be closed, updates=%v", store.updates)
	}
	if got, ok := store.updates[staleRevoke.ID]; !ok || !got {
		t.Fatalf("paid-up enrollment must be reopened, updates=%v", store.updates)
	}
	if _, ok := store.updates[correct.ID]; ok {
		t.Fatalf("matching enrollment must be left alone, updates=%v", store.updates)
	}
}

func TestAccessRefreshLeavesUnpaidPlansClosed(t *testing.T) {
	now := time.Date(2025, 5, 10, 6, 0, 0, 0, time.UTC)
	unpaid := activePlan(now, 10, false)
	unpaid.InstallmentsPaid = 0

	store := &fakeRefreshStore{rows: []models.Enrollment{unpaid}}
	job := newRefreshJob(t, store, now)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := store.updates[unpaid.ID]; ok {
		t.Fatalf("a plan with no payments must stay closed, updates=%v", store.updates)
	}
}
