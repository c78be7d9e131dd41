package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnexity/learnexity-backend/pkg/enums"
)

// InstallmentPayment is one ledger entry in an enrollment's payment history.
// Entries are immutable once completed; installment numbers are 1-based and
// unique within an enrollment.
type InstallmentPayment struct {
	ID           uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	EnrollmentID uuid.UUID `gorm:"column:enrollment_id;type:uuid;not null;uniqueIndex:uq_installments_enrollment_number"`

	InstallmentNumber int                     `gorm:"column:installment_number;not null;uniqueIndex:uq_installments_enrollment_number"`
	Amount            decimal.Decimal         `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency          enums.Currency          `gorm:"column:currency;not null"`
	Status            enums.InstallmentStatus `gorm:"column:status;type:installment_status;not null;default:'pending'"`
	TransactionID     *string                 `gorm:"column:transaction_id"`

	DueDate *time.Time `gorm:"column:due_date"`
	PaidAt  *time.Time `gorm:"column:paid_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
