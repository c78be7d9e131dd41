package cron

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

type fakeOverdueStore struct {
	rows      []models.Enrollment
	revoked   []uuid.UUID
	granted   []uuid.UUID
	failOn    map[uuid.UUID]error
	listCalls int
}

func (f *fakeOverdueStore) ListOverdueWithAccess(_ context.Context, now time.Time, afterID uuid.UUID, limit int) ([]models.Enrollment, error) {
	f.listCalls++
	return pageAfter(f.rows, afterID, limit), nil
}

func (f *fakeOverdueStore) UpdateAccess(_ context.Context, id uuid.UUID, hasAccess bool) error {
	if err, ok := f.failOn[id]; ok {
		return err
	}
	if hasAccess {
		f.granted = append(f.granted, id)
	} else {
		f.revoked = append(f.revoked, id)
	}
	return nil
}

// pageAfter mimics keyset pagination over an in-memory slice ordered by id.
func pageAfter(rows []models.Enrollment, afterID uuid.UUID, limit int) []models.Enrollment {
	sorted := make([]models.Enrollment, len(rows))
	copy(sorted, rows)
	sort.Slice(sorted, func(i, j int) bool {
		return strings.Compare(sorted[i].ID.String(), sorted[j].ID.String()) < 0
	})
	var page []models.Enrollment
	for _, row := range sorted {
		if afterID != uuid.Nil && strings.Compare(row.ID.String(), afterID.String()) <= 0 {
			continue
		}
		page = append(page, row)
		if len(page) == limit {
			break
		}
	}
	return page
}

func overdueEnrollment(now time.Time, overdueBy time.Duration) models.Enrollment {
	due := now.Add(-overdueBy)
	return models.Enrollment{
		ID:                uuid.New(),
		UserID:            uuid.New(),
		PaymentType:       enums.PaymentTypeInstallment,
		PaymentStatus:     enums.PaymentStatusPending,
		TotalInstallments: 4,
		InstallmentsPaid:  1,
		InstallmentAmount: decimal.NewFromInt(100),
		HasAccess:         true,
		NextPaymentDue:    &due,
	}
}

func newOverdueJob(t *testing.T, store *fakeOverdueStore, now time.Time, batchSize int) Job {
	t.Helper()
	job, err := NewOverdueEnforcementJob(OverdueEnforcementJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		Store:     store,
		Schedule:  "0 2 * * *",
		BatchSize: batchSize,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOverdueEnforcementJob: %v", err)
	}
	return job
}

func TestOverdueEnforcementRevokesExpiredAccess(t *testing.T) {
	now := time.Date(2025, 5, 10, 2, 0, 0, 0, time.UTC)
	expired := overdueEnrollment(now, 48*time.Hour)
	store := &fakeOverdueStore{rows: []models.Enrollment{expired}}

	job := newOverdueJob(t, store, now, 250)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.revoked) != 1 || store.revoked[0] != expired.ID {
		t.Fatalf("expected access revoked for %s, got %v", expired.ID, store.revoked)
	}
	if len(store.granted) != 0 {
		t.Fatalf("enforcement must never grant access, granted %v", store.granted)
	}
}

func TestOverdueEnforcementAuditFields(t *testing.T) {
	now := time.Date(2025, 5, 10, 2, 0, 0, 0, time.UTC)
	expired := overdueEnrollment(now, 48*time.Hour)
	expired.CourseID = uuid.New()
	store := &fakeOverdueStore{rows: []models.Enrollment{expired}}

	var buf bytes.Buffer
	job, err := NewOverdueEnforcementJob(OverdueEnforcementJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test", Output: &buf}),
		Store:     store,
		Schedule:  "0 2 * * *",
		BatchSize: 250,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewOverdueEnforcementJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	logged := buf.String()
	for _, want := range []string{
		expired.ID.String(),
		expired.UserID.String(),
		expired.CourseID.String(),
		"days_overdue",
	} {
		if !strings.Contains(logged, want) {
			t.Fatalf("revocation audit record missing %q:\n%s", want, logged)
		}
	}
}

func TestOverdueEnforcementSkipsCompletedPlans(t *testing.T) {
	now := time.Date(2025, 5, 10, 2, 0, 0, 0, time.UTC)
	// A completed plan with a stale due date can show up if the sweep query
	// races a payment confirmation; the policy must protect it.
	completed := overdueEnrollment(now, 24*time.Hour)
	completed.PaymentStatus = enums.PaymentStatusCompleted
	completed.InstallmentsPaid = 4
	store := &fakeOverdueStore{rows: []models.Enrollment{completed}}

	job := newOverdueJob(t, store, now, 250)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.revoked) != 0 {
		t.Fatalf("completed plan must keep access, revoked %v", store.revoked)
	}
}

func TestOverdueEnforcementPaginates(t *testing.T) {
	now := time.Date(2025, 5, 10, 2, 0, 0, 0, time.UTC)
	var rows []models.Enrollment
	for i := 0; i < 5; i++ {
		rows = append(rows, overdueEnrollment(now, 24*time.Hour))
	}
	store := &fakeOverdueStore{rows: rows}

	job := newOverdueJob(t, store, now, 2)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.revoked) != 5 {
		t.Fatalf("expected all 5 revoked, got %d", len(store.revoked))
	}
	if store.listCalls < 3 {
		t.Fatalf("expected at least 3 pages with batch size 2, got %d", store.listCalls)
	}
}

func TestOverdueEnforcementIsolatesItemFailures(t *testing.T) {
	now := time.Date(2025, 5, 10, 2, 0, 0, 0, time.UTC)
	bad := overdueEnrollment(now, 24*time.Hour)
	good := overdueEnrollment(now, 24*time.Hour)
	store := &fakeOverdueStore{
		rows:   []models.Enrollment{bad, good},
		failOn: map[uuid.UUID]error{bad.ID: errors.New("deadlock")},
	}

	job := newOverdueJob(t, store, now, 250)
	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected error when an item fails")
	}
	if len(store.revoked) != 1 || store.revoked[0] != good.ID {
		t.Fatalf("healthy enrollment must still be processed, revoked %v", store.revoked)
	}
}

func TestOverdueEnforcementIsIdempotent(t *testing.T) {
	now := time.Date(2025, 5, 10, 2, 0, 0, 0, time.UTC)
	expired := overdueEnrollment(now, 24*time.Hour)
	store := &fakeOverdueStore{rows: []models.Enrollment{expired}}

	job := newOverdueJob(t, store, now, 250)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	// After the first run the row no longer matches has_access=true.
	store.rows = nil
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(store.revoked) != 1 {
		t.Fatalf("second run must be a no-op, revoked %v", store.revoked)
	}
}
