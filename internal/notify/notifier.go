package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
)

// Notifier delivers messages to students. Implementations must be safe for
// concurrent use; the bulk fan-out sends from multiple chunks.
type Notifier interface {
	SendReminder(ctx context.Context, user models.User, enrollment models.Enrollment, reminder enums.ReminderType, daysDelta int) error
	SendPaymentConfirmation(ctx context.Context, user models.User, enrollment models.Enrollment, installmentNumber int) error
	SendBulkMessage(ctx context.Context, user models.User, subject, body string) error
}

// reminderSubject maps a reminder type to its email subject line.
func reminderSubject(reminder enums.ReminderType, daysDelta int) string {
	switch reminder {
	case enums.ReminderSevenDayAdvance, enums.ReminderThreeDayAdvance, enums.ReminderOneDayAdvance:
		return fmt.Sprintf("Your next installment is due in %d day(s)", daysDelta)
	case enums.ReminderDueToday:
		return "Your installment is due today"
	case enums.ReminderOverdueWeekly:
		return fmt.Sprintf("Payment overdue by %d day(s) - course access paused", daysDelta)
	}
	return "Payment reminder"
}

func reminderBody(user models.User, enrollment models.Enrollment, reminder enums.ReminderType, daysDelta int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.FullName())
	switch reminder {
	case enums.ReminderDueToday:
		fmt.Fprintf(&b, "Your installment of %s %s is due today.\n",
			enrollment.Currency, enrollment.InstallmentAmount.StringFixed(2))
	case enums.ReminderOverdueWeekly:
		fmt.Fprintf(&b, "Your installment of %s %s is %d day(s) overdue and your course access is paused until payment is received.\n",
			enrollment.Currency, enrollment.InstallmentAmount.StringFixed(2), daysDelta)
	default:
		fmt.Fprintf(&b, "Your installment of %s %s is due in %d day(s).\n",
			enrollment.Currency, enrollment.InstallmentAmount.StringFixed(2), daysDelta)
	}
	fmt.Fprintf(&b, "\nPaid so far: %s of %s (%d of %d installments).\n",
		enrollment.AmountPaid.StringFixed(2), enrollment.TotalAmount.StringFixed(2),
		enrollment.InstallmentsPaid, enrollment.TotalInstallments)
	b.WriteString("\nThe Learnexity Team\n")
	return b.String()
}

func confirmationSubject(enrollment models.Enrollment, installmentNumber int) string {
	if enrollment.PaymentStatus == enums.PaymentStatusCompleted {
		return "Payment complete - welcome aboard"
	}
	return fmt.Sprintf("Installment %d of %d received", installmentNumber, enrollment.TotalInstallments)
}

func confirmationBody(user models.User, enrollment models.Enrollment, installmentNumber int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", user.FullName())
	if enrollment.PaymentStatus == enums.PaymentStatusCompleted {
		fmt.Fprintf(&b, "We received your payment of %s %s. Your course is fully paid and your access is active.\n",
			enrollment.Currency, enrollment.AmountPaid.StringFixed(2))
	} else {
		fmt.Fprintf(&b, "We received installment %d of %d (%s %s).\n",
			installmentNumber, enrollment.TotalInstallments,
			enrollment.Currency, enrollment.InstallmentAmount.StringFixed(2))
		if enrollment.NextPaymentDue != nil {
			fmt.Fprintf(&b, "Your next installment is due on %s.\n",
				enrollment.NextPaymentDue.Format(time.DateOnly))
		}
	}
	b.WriteString("\nThe Learnexity Team\n")
	return b.String()
}
