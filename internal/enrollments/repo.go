package enrollments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/pagination"
)

// Repository exposes persistence helpers for enrollments and their course/user
// lookups. Sweep queries page by primary key so jobs never load the whole table.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, enrollment *models.Enrollment) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Enrollment, error)
	FindByUserAndCourse(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, error)
	Save(ctx context.Context, enrollment *models.Enrollment) error
	UpdateAccess(ctx context.Context, id uuid.UUID, hasAccess bool) error

	ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Enrollment, *pagination.Cursor, error)
	ListOverdueWithAccess(ctx context.Context, now time.Time, afterID uuid.UUID, limit int) ([]models.Enrollment, error)
	ListActiveInstallments(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Enrollment, error)

	FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error)
	FindUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindReferralCode(ctx context.Context, code string) (*models.ReferralCode, error)
	CreateReferralHistory(ctx context.Context, history *models.ReferralHistory) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns an enrollments repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) Create(ctx context.Context, enrollment *models.Enrollment) error {
	return r.db.WithContext(ctx).Create(enrollment).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).First(&enrollment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByIDForUpdate takes a row lock so concurrent payment confirmations for
// the same enrollment serialize instead of double-counting installments.
func (r *repositoryImpl) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&enrollment, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *repositoryImpl) FindByUserAndCourse(ctx context.Context, userID, courseID uuid.UUID) (*models.Enrollment, error) {
	var enrollment models.Enrollment
	err := r.db.WithContext(ctx).
		First(&enrollment, "user_id = ? AND course_id = ?", userID, courseID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &enrollment, nil
}

func (r *repositoryImpl) Save(ctx context.Context, enrollment *models.Enrollment) error {
	return r.db.WithContext(ctx).Save(enrollment).Error
}

func (r *repositoryImpl) UpdateAccess(ctx context.Context, id uuid.UUID, hasAccess bool) error {
	return r.db.WithContext(ctx).
		Model(&models.Enrollment{}).
		Where("id = ?", id).
		UpdateColumn("has_access", hasAccess).Error
}

// ListByUser pages newest-first through a user's enrollments. The returned
// cursor is nil on the last page.
func (r *repositoryImpl) ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]models.Enrollment, *pagination.Cursor, error) {
	pageSize := pagination.NormalizeLimit(limit)

	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(pagination.LimitWithBuffer(limit))
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var rows []models.Enrollment
	if err := query.Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	var next *pagination.Cursor
	if len(rows) > pageSize {
		rows = rows[:pageSize]
		last := rows[len(rows)-1]
		next = &pagination.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return rows, next, nil
}

func (r *repositoryImpl) ListOverdueWithAccess(ctx context.Context, now time.Time, afterID uuid.UUID, limit int) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("payment_type = ?", enums.PaymentTypeInstallment).
		Where("payment_status <> ?", enums.PaymentStatusCompleted).
		Where("next_payment_due IS NOT NULL AND next_payment_due < ?", now).
		Where("has_access = ?", true).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) ListActiveInstallments(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Enrollment, error) {
	var rows []models.Enrollment
	err := r.db.WithContext(ctx).
		Where("payment_type = ?", enums.PaymentTypeInstallment).
		Where("payment_status <> ?", enums.PaymentStatusCompleted).
		Where("next_payment_due IS NOT NULL").
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repositoryImpl) FindCourse(ctx context.Context, id uuid.UUID) (*models.Course, error) {
	var course models.Course
	err := r.db.WithContext(ctx).First(&course, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &course, nil
}

func (r *repositoryImpl) FindUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *repositoryImpl) FindReferralCode(ctx context.Context, code string) (*models.ReferralCode, error) {
	var referral models.ReferralCode
	err := r.db.WithContext(ctx).First(&referral, "code = ? AND active = ?", code, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &referral, nil
}

func (r *repositoryImpl) CreateReferralHistory(ctx context.Context, history *models.ReferralHistory) error {
	return r.db.WithContext(ctx).Create(history).Error
}
