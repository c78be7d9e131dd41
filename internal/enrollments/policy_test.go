package enrollments

import (
	"testing"
	"time"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
)

func installmentEnrollment(paid, total int, due *time.Time) models.Enrollment {
	return models.Enrollment{
		PaymentType:       enums.PaymentTypeInstallment,
		PaymentStatus:     enums.PaymentStatusPending,
		TotalInstallments: total,
		InstallmentsPaid:  paid,
		NextPaymentDue:    due,
	}
}

func timePtr(t time.Time) *time.Time { return &t }

func TestShouldHaveAccessOnetime(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	pending := models.Enrollment{PaymentType: enums.PaymentTypeOnetime, PaymentStatus: enums.PaymentStatusPending}
	if ShouldHaveAccess(pending, now) {
		t.Fatal("pending onetime enrollment should not have access")
	}

	completed := models.Enrollment{PaymentType: enums.PaymentTypeOnetime, PaymentStatus: enums.PaymentStatusCompleted}
	if !ShouldHaveAccess(completed, now) {
		t.Fatal("completed onetime enrollment should have access")
	}
}

func TestShouldHaveAccessInstallment(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		e    models.Enrollment
		want bool
	}{
		{"fully paid is terminal", installmentEnrollment(4, 4, nil), true},
		{"partial within grace", installmentEnrollment(1, 4, timePtr(now.Add(7*24*time.Hour))), true},
		{"partial overdue", installmentEnrollment(1, 4, timePtr(now.Add(-24*time.Hour))), false},
		{"wholly unpaid before due date", installmentEnrollment(0, 4, timePtr(now.Add(14*24*time.Hour))), false},
		{"wholly unpaid no due date", installmentEnrollment(0, 4, nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldHaveAccess(tt.e, now); got != tt.want {
				t.Fatalf("ShouldHaveAccess = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestShouldHaveAccessIsDeterministic(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	e := installmentEnrollment(2, 4, timePtr(now.Add(-3*24*time.Hour)))
	first := ShouldHaveAccess(e, now)
	second := ShouldHaveAccess(e, now)
	if first != second {
		t.Fatal("policy must be deterministic for identical inputs")
	}
}

func TestCompletedPlanIgnoresStaleDueDate(t *testing.T) {
	now := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	e := installmentEnrollment(4, 4, timePtr(now.Add(-30*24*time.Hour)))
	e.PaymentStatus = enums.PaymentStatusCompleted
	if IsOverdue(e, now) {
		t.Fatal("completed plans are never overdue")
	}
	if !ShouldHaveAccess(e, now) {
		t.Fatal("completed plans keep access")
	}
}

func TestDaysOverdueUsesCalendarDays(t *testing.T) {
	// Due 23:30 two nights ago, checked 00:30 today: only ~25 elapsed hours
	// but two calendar days apart.
	due := time.Date(2026, 3, 8, 23, 30, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 0, 30, 0, 0, time.UTC)
	e := installmentEnrollment(1, 4, &due)
	if got := DaysOverdue(e, now); got != 2 {
		t.Fatalf("DaysOverdue = %d, want 2", got)
	}

	notOverdue := installmentEnrollment(1, 4, timePtr(now.Add(time.Hour)))
	if got := DaysOverdue(notOverdue, now); got != 0 {
		t.Fatalf("DaysOverdue before due date = %d, want 0", got)
	}
}

func TestDaysUntilDueSigned(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	e := installmentEnrollment(1, 4, timePtr(now.Add(7*24*time.Hour)))
	if got, ok := DaysUntilDue(e, now); !ok || got != 7 {
		t.Fatalf("DaysUntilDue = %d/%v, want 7/true", got, ok)
	}

	overdue := installmentEnrollment(1, 4, timePtr(now.Add(-14*24*time.Hour)))
	if got, ok := DaysUntilDue(overdue, now); !ok || got != -14 {
		t.Fatalf("DaysUntilDue = %d/%v, want -14/true", got, ok)
	}

	if _, ok := DaysUntilDue(installmentEnrollment(1, 4, nil), now); ok {
		t.Fatal("expected no due date")
	}
}

func TestAccessBlockedReason(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	if reason := AccessBlockedReason(installmentEnrollment(1, 4, timePtr(now.Add(24*time.Hour))), now); reason != "" {
		t.Fatalf("expected empty reason for granted access, got %q", reason)
	}
	if reason := AccessBlockedReason(installmentEnrollment(0, 4, nil), now); reason != "no installment payment recorded" {
		t.Fatalf("unexpected reason %q", reason)
	}
	overdue := installmentEnrollment(1, 4, timePtr(now.Add(-2*24*time.Hour)))
	if reason := AccessBlockedReason(overdue, now); reason != "installment payment overdue by 2 days" {
		t.Fatalf("unexpected reason %q", reason)
	}
}
