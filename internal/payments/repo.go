package payments

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
)

// Repository persists the installment ledger. Entries are append-only; the
// enrollment row carries the running totals.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, payment *models.InstallmentPayment) error
	ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]models.InstallmentPayment, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.InstallmentPayment, error)
}

type repositoryImpl struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, payment *models.InstallmentPayment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *repositoryImpl) ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID) ([]models.InstallmentPayment, error) {
	var rows []models.InstallmentPayment
	err := r.db.WithContext(ctx).
		Where("enrollment_id = ?", enrollmentID).
		Order("installment_number ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) FindByTransactionID(ctx context.Context, transactionID string) (*models.InstallmentPayment, error) {
	var payment models.InstallmentPayment
	err := r.db.WithContext(ctx).
		First(&payment, "transaction_id = ?", transactionID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}
