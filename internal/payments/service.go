package payments

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/pkg/db"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

// installmentDueWindow is how long a student has until the next installment
// falls due after one is registered.
const installmentDueWindow = 28 * 24 * time.Hour

// ledgerTransactionIndex backs the replay check: one ledger row per gateway
// transaction id.
const ledgerTransactionIndex = "uq_installment_payments_transaction"

// errTransactionReplayed aborts a registration transaction when the ledger
// already holds the transaction id, so concurrent deliveries of the same
// webhook cannot each advance the counter.
var errTransactionReplayed = stderrors.New("transaction already applied")

// ConfirmationSender delivers a payment receipt to the student. Delivery is
// best-effort; a send failure never rolls back the registered payment.
type ConfirmationSender interface {
	SendPaymentConfirmation(ctx context.Context, user models.User, enrollment models.Enrollment, installmentNumber int) error
}

// Service applies confirmed payments to enrollments and keeps the ledger.
type Service struct {
	ledger      Repository
	enrollments enrollments.Repository
	tx          enrollments.TxRunner
	notifier    ConfirmationSender
	logg        *logger.Logger
	now         func() time.Time
}

type ServiceParams struct {
	Ledger      Repository
	Enrollments enrollments.Repository
	Tx          enrollments.TxRunner
	Notifier    ConfirmationSender
	Logger      *logger.Logger
	Now         func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, fmt.Errorf("payments service requires a ledger repository")
	}
	if params.Enrollments == nil {
		return nil, fmt.Errorf("payments service requires an enrollments repository")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("payments service requires a transaction runner")
	}
	if params.Notifier == nil {
		return nil, fmt.Errorf("payments service requires a confirmation sender")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("payments service requires a logger")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		ledger:      params.Ledger,
		enrollments: params.Enrollments,
		tx:          params.Tx,
		notifier:    params.Notifier,
		logg:        params.Logger,
		now:         params.Now,
	}, nil
}

// Confirm routes a confirmed payment to the right registration path for the
// enrollment's plan. A non-nil amount is cross-checked against what the plan
// charges; the plan itself stays the source of truth for what gets recorded.
func (s *Service) Confirm(ctx context.Context, enrollmentID uuid.UUID, transactionID string, amount *decimal.Decimal) (*models.Enrollment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading enrollment")
	}
	if enrollment == nil {
		return nil, errors.New(errors.CodeNotFound, "enrollment not found")
	}
	if enrollment.PaymentType == enums.PaymentTypeOnetime {
		return s.ConfirmOnetime(ctx, enrollmentID, transactionID, amount)
	}
	return s.RegisterInstallment(ctx, enrollmentID, transactionID, amount)
}

// RegisterInstallment records one confirmed installment against an installment
// plan: totals advance, access opens, and the due clock restarts four weeks
// out. When the last installment lands the plan completes and the due clock
// stops for good.
func (s *Service) RegisterInstallment(ctx context.Context, enrollmentID uuid.UUID, transactionID string, amount *decimal.Decimal) (*models.Enrollment, error) {
	if replayed, err := s.replayedEnrollment(ctx, transactionID); replayed != nil || err != nil {
		return replayed, err
	}

	var updated *models.Enrollment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		enrollRepo := s.enrollments.WithTx(tx)
		enrollment, err := enrollRepo.FindByIDForUpdate(ctx, enrollmentID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "locking enrollment")
		}
		if enrollment == nil {
			return errors.New(errors.CodeNotFound, "enrollment not found")
		}
		if err := s.recheckReplay(ctx, tx, transactionID); err != nil {
			return err
		}
		if enrollment.PaymentType != enums.PaymentTypeInstallment {
			return errors.New(errors.CodeStateConflict, "enrollment is not on an installment plan")
		}
		if enrollment.PaymentStatus == enums.PaymentStatusCompleted {
			return errors.New(errors.CodeStateConflict, "payment plan is already completed")
		}
		if err := checkAmount(amount, enrollment.InstallmentAmount); err != nil {
			return err
		}

		now := s.now().UTC()
		enrollment.InstallmentsPaid++
		enrollment.AmountPaid = enrollment.AmountPaid.Add(enrollment.InstallmentAmount)
		enrollment.LastInstallmentPaidAt = &now
		enrollment.HasAccess = true
		if transactionID != "" {
			enrollment.TransactionID = &transactionID
		}

		if enrollment.FullyPaid() {
			enrollment.PaymentStatus = enums.PaymentStatusCompleted
			enrollment.PaymentDate = &now
			enrollment.NextPaymentDue = nil
		} else {
			due := now.Add(installmentDueWindow)
			enrollment.NextPaymentDue = &due
		}

		entry := s.ledgerEntry(enrollment, enrollment.InstallmentsPaid, transactionID, now)
		if err := s.ledger.WithTx(tx).Create(ctx, entry); err != nil {
			if db.IsUniqueViolation(err, ledgerTransactionIndex) {
				return errTransactionReplayed
			}
			return errors.Wrap(errors.CodeInternal, err, "appending installment ledger entry")
		}

		if err := enrollRepo.Save(ctx, enrollment); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "saving enrollment")
		}

		updated = enrollment
		return nil
	})
	if stderrors.Is(err, errTransactionReplayed) {
		return s.resolveReplay(ctx, transactionID)
	}
	if err != nil {
		return nil, err
	}

	s.sendConfirmation(ctx, updated, updated.InstallmentsPaid)
	return updated, nil
}

// ConfirmOnetime settles a full-payment enrollment in one step.
func (s *Service) ConfirmOnetime(ctx context.Context, enrollmentID uuid.UUID, transactionID string, amount *decimal.Decimal) (*models.Enrollment, error) {
	if replayed, err := s.replayedEnrollment(ctx, transactionID); replayed != nil || err != nil {
		return replayed, err
	}

	var updated *models.Enrollment
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		enrollRepo := s.enrollments.WithTx(tx)
		enrollment, err := enrollRepo.FindByIDForUpdate(ctx, enrollmentID)
		if err != nil {
			return errors.Wrap(errors.CodeInternal, err, "locking enrollment")
		}
		if enrollment == nil {
			return errors.New(errors.CodeNotFound, "enrollment not found")
		}
		if err := s.recheckReplay(ctx, tx, transactionID); err != nil {
			return err
		}
		if enrollment.PaymentType != enums.PaymentTypeOnetime {
			return errors.New(errors.CodeStateConflict, "enrollment is on an installment plan")
		}
		if enrollment.PaymentStatus == enums.PaymentStatusCompleted {
			return errors.New(errors.CodeStateConflict, "payment is already completed")
		}
		if err := checkAmount(amount, enrollment.TotalAmount); err != nil {
			return err
		}

		now := s.now().UTC()
		enrollment.AmountPaid = enrollment.TotalAmount
		enrollment.InstallmentsPaid = enrollment.TotalInstallments
		enrollment.PaymentStatus = enums.PaymentStatusCompleted
		enrollment.HasAccess = true
		enrollment.PaymentDate = &now
		enrollment.LastInstallmentPaidAt = &now
		enrollment.NextPaymentDue = nil
		if transactionID != "" {
			enrollment.TransactionID = &transactionID
		}

		entry := s.ledgerEntry(enrollment, 1, transactionID, now)
		entry.Amount = enrollment.TotalAmount
		if err := s.ledger.WithTx(tx).Create(ctx, entry); err != nil {
			if db.IsUniqueViolation(err, ledgerTransactionIndex) {
				return errTransactionReplayed
			}
			return errors.Wrap(errors.CodeInternal, err, "appending payment ledger entry")
		}

		if err := enrollRepo.Save(ctx, enrollment); err != nil {
			return errors.Wrap(errors.CodeInternal, err, "saving enrollment")
		}

		updated = enrollment
		return nil
	})
	if stderrors.Is(err, errTransactionReplayed) {
		return s.resolveReplay(ctx, transactionID)
	}
	if err != nil {
		return nil, err
	}

	s.sendConfirmation(ctx, updated, 1)
	return updated, nil
}

// History lists the payment ledger for an enrollment in installment order.
func (s *Service) History(ctx context.Context, enrollmentID uuid.UUID) ([]models.InstallmentPayment, error) {
	enrollment, err := s.enrollments.FindByID(ctx, enrollmentID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading enrollment")
	}
	if enrollment == nil {
		return nil, errors.New(errors.CodeNotFound, "enrollment not found")
	}
	rows, err := s.ledger.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "listing payment history")
	}
	return rows, nil
}

// checkAmount rejects a gateway payload whose charge disagrees with what the
// plan expects. A partial charge must never advance the counter.
func checkAmount(amount *decimal.Decimal, want decimal.Decimal) error {
	if amount == nil {
		return nil
	}
	if !amount.Equal(want) {
		return errors.New(errors.CodeValidation,
			fmt.Sprintf("amount %s does not match the expected charge of %s", amount.StringFixed(2), want.StringFixed(2)))
	}
	return nil
}

// recheckReplay repeats the ledger lookup under the enrollment row lock. The
// pre-transaction check is only a fast path; two concurrent deliveries of the
// same webhook both pass it, then serialize here and the loser bails out.
func (s *Service) recheckReplay(ctx context.Context, tx *gorm.DB, transactionID string) error {
	if transactionID == "" {
		return nil
	}
	existing, err := s.ledger.WithTx(tx).FindByTransactionID(ctx, transactionID)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "rechecking for replayed transaction")
	}
	if existing != nil {
		return errTransactionReplayed
	}
	return nil
}

// resolveReplay turns an aborted registration back into the idempotent replay
// response: the enrollment as the earlier delivery left it.
func (s *Service) resolveReplay(ctx context.Context, transactionID string) (*models.Enrollment, error) {
	replayed, err := s.replayedEnrollment(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if replayed == nil {
		return nil, errors.New(errors.CodeStateConflict, "transaction already applied")
	}
	return replayed, nil
}

// replayedEnrollment detects a webhook retry: a transaction id already in the
// ledger means the payment was applied, so return the enrollment as-is.
func (s *Service) replayedEnrollment(ctx context.Context, transactionID string) (*models.Enrollment, error) {
	if transactionID == "" {
		return nil, nil
	}
	existing, err := s.ledger.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "checking for replayed transaction")
	}
	if existing == nil {
		return nil, nil
	}
	enrollment, err := s.enrollments.FindByID(ctx, existing.EnrollmentID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading enrollment for replayed transaction")
	}
	if enrollment == nil {
		return nil, errors.New(errors.CodeNotFound, "enrollment not found")
	}
	s.logg.Warn(ctx, "ignoring replayed payment transaction")
	return enrollment, nil
}

func (s *Service) ledgerEntry(enrollment *models.Enrollment, number int, transactionID string, paidAt time.Time) *models.InstallmentPayment {
	entry := &models.InstallmentPayment{
		EnrollmentID:      enrollment.ID,
		InstallmentNumber: number,
		Amount:            enrollment.InstallmentAmount,
		Currency:          enrollment.Currency,
		Status:            enums.InstallmentStatusCompleted,
		PaidAt:            &paidAt,
	}
	if transactionID != "" {
		entry.TransactionID = &transactionID
	}
	return entry
}

func (s *Service) sendConfirmation(ctx context.Context, enrollment *models.Enrollment, installmentNumber int) {
	user, err := s.enrollments.FindUser(ctx, enrollment.UserID)
	if err != nil || user == nil {
		s.logg.Error(ctx, "loading user for payment confirmation", err)
		return
	}
	ctx = s.logg.WithEnrollmentID(ctx, enrollment.ID.String())
	if err := s.notifier.SendPaymentConfirmation(ctx, *user, *enrollment, installmentNumber); err != nil {
		s.logg.Error(ctx, "sending payment confirmation", err)
		return
	}
	s.logg.Info(ctx, "payment confirmation sent")
}
