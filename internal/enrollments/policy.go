package enrollments

import (
	"fmt"
	"time"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
)

// The access policy is a pure function of an enrollment snapshot and a clock
// reading. Every writer of has_access (payment registration, the enforcement
// sweep, the refresh sweep) recomputes through these functions from current
// ledger state rather than toggling the flag blindly, which keeps concurrent
// writers commutative.

// ShouldHaveAccess decides whether the enrollment currently grants content access.
func ShouldHaveAccess(e models.Enrollment, now time.Time) bool {
	if e.PaymentType == enums.PaymentTypeOnetime {
		return e.PaymentStatus == enums.PaymentStatusCompleted
	}
	if e.InstallmentsPaid >= e.TotalInstallments {
		// fully paid, terminal
		return true
	}
	if e.InstallmentsPaid > 0 && !IsOverdue(e, now) {
		return true
	}
	// A wholly-unpaid enrollment never gets access, even before any due date.
	return false
}

// IsOverdue reports whether an installment plan has a missed due date.
func IsOverdue(e models.Enrollment, now time.Time) bool {
	if e.PaymentType != enums.PaymentTypeInstallment {
		return false
	}
	if e.PaymentStatus == enums.PaymentStatusCompleted {
		return false
	}
	if e.NextPaymentDue == nil {
		return false
	}
	return now.After(*e.NextPaymentDue)
}

// DaysOverdue returns the calendar days elapsed past the due date, or 0 when
// the enrollment is not overdue.
func DaysOverdue(e models.Enrollment, now time.Time) int {
	if !IsOverdue(e, now) {
		return 0
	}
	days := calendarDaysBetween(*e.NextPaymentDue, now)
	if days < 0 {
		return 0
	}
	return days
}

// DaysUntilDue returns the signed calendar-day distance to the next due date.
// Negative values mean the due date has passed. The second return is false when
// no due date is set.
func DaysUntilDue(e models.Enrollment, now time.Time) (int, bool) {
	if e.NextPaymentDue == nil {
		return 0, false
	}
	return calendarDaysBetween(now, *e.NextPaymentDue), true
}

// AccessBlockedReason explains why access is currently denied; empty when the
// policy grants access.
func AccessBlockedReason(e models.Enrollment, now time.Time) string {
	if ShouldHaveAccess(e, now) {
		return ""
	}
	if e.PaymentType == enums.PaymentTypeOnetime {
		return "payment not completed"
	}
	if IsOverdue(e, now) {
		return fmt.Sprintf("installment payment overdue by %d days", DaysOverdue(e, now))
	}
	return "no installment payment recorded"
}

// calendarDaysBetween counts whole calendar days from one instant's date to
// another's, in UTC, ignoring the time-of-day component.
func calendarDaysBetween(from, to time.Time) int {
	a := startOfDay(from)
	b := startOfDay(to)
	return int(b.Sub(a) / (24 * time.Hour))
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
