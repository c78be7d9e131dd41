package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnexity/learnexity-backend/pkg/enums"
)

// Enrollment is one student's commitment to one course under one learning track,
// one currency, and one payment plan. It is the single shared mutable row both the
// payment confirmation path and the scheduled sweeps read-modify-write.
type Enrollment struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID   uuid.UUID `gorm:"column:user_id;type:uuid;not null;uniqueIndex:uq_enrollments_user_course"`
	CourseID uuid.UUID `gorm:"column:course_id;type:uuid;not null;uniqueIndex:uq_enrollments_user_course"`

	LearningTrack enums.LearningTrack `gorm:"column:learning_track;type:learning_track;not null"`
	PaymentType   enums.PaymentType   `gorm:"column:payment_type;type:payment_type;not null"`
	Currency      enums.Currency      `gorm:"column:currency;not null;default:'USD'"`

	CoursePrice decimal.Decimal `gorm:"column:course_price;type:numeric(12,2);not null"`
	TotalAmount decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	AmountPaid  decimal.Decimal `gorm:"column:amount_paid;type:numeric(12,2);not null;default:0"`

	TotalInstallments int             `gorm:"column:total_installments;not null;default:1"`
	InstallmentsPaid  int             `gorm:"column:installments_paid;not null;default:0"`
	InstallmentAmount decimal.Decimal `gorm:"column:installment_amount;type:numeric(12,2);not null;default:0"`

	PaymentStatus  enums.PaymentStatus `gorm:"column:payment_status;type:payment_status;not null;default:'pending'"`
	HasAccess      bool                `gorm:"column:has_access;not null;default:false"`
	NextPaymentDue *time.Time          `gorm:"column:next_payment_due;index"`
	TransactionID  *string             `gorm:"column:transaction_id"`

	EnrollmentDate        time.Time  `gorm:"column:enrollment_date;not null"`
	PaymentDate           *time.Time `gorm:"column:payment_date"`
	LastInstallmentPaidAt *time.Time `gorm:"column:last_installment_paid_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// RemainingInstallments reports how many parts of the plan are still outstanding.
func (e Enrollment) RemainingInstallments() int {
	remaining := e.TotalInstallments - e.InstallmentsPaid
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FullyPaid reports whether every installment of the plan has been registered.
func (e Enrollment) FullyPaid() bool {
	return e.InstallmentsPaid >= e.TotalInstallments
}
