package enrollments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/learnexity/learnexity-backend/pkg/db"
	dbmodels "github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/pagination"
)

// TxRunner runs a function inside one database transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns enrollment creation and access reads. Payment confirmation
// lives in the payments service; the scheduled sweeps live in internal/cron.
type Service struct {
	repo Repository
	tx   TxRunner
	logg *logger.Logger
	now  func() time.Time
}

type ServiceParams struct {
	Repo   Repository
	Tx     TxRunner
	Logger *logger.Logger
	Now    func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("enrollments service requires a repository")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("enrollments service requires a transaction runner")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("enrollments service requires a logger")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		repo: params.Repo,
		tx:   params.Tx,
		logg: params.Logger,
		now:  params.Now,
	}, nil
}

// EnrollParams describes a new enrollment request. The caller resolves the
// currency (geo lookup or explicit override) before calling Enroll.
type EnrollParams struct {
	UserID            uuid.UUID
	CourseID          uuid.UUID
	LearningTrack     enums.LearningTrack
	PaymentType       enums.PaymentType
	Currency          enums.Currency
	TotalInstallments int
	ReferralCode      string
}

// Enroll creates a pending enrollment priced from the course's price book.
// Access is never granted here; only a confirmed payment opens the course.
func (s *Service) Enroll(ctx context.Context, params EnrollParams) (*dbmodels.Enrollment, error) {
	if !params.LearningTrack.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown learning track %q", params.LearningTrack))
	}
	if !params.PaymentType.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unknown payment type %q", params.PaymentType))
	}
	if !params.Currency.IsValid() {
		return nil, errors.New(errors.CodeValidation, fmt.Sprintf("unsupported currency %q", params.Currency))
	}

	user, err := s.repo.FindUser(ctx, params.UserID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up user")
	}
	if user == nil {
		return nil, errors.New(errors.CodeNotFound, "user not found")
	}

	course, err := s.repo.FindCourse(ctx, params.CourseID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "looking up course")
	}
	if course == nil || !course.Published {
		return nil, errors.New(errors.CodeNotFound, "course not found")
	}

	existing, err := s.repo.FindByUserAndCourse(ctx, params.UserID, params.CourseID)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "checking existing enrollment")
	}
	if existing != nil {
		return nil, errors.New(errors.CodeConflict, "user is already enrolled in this course")
	}

	price, err := course.PriceFor(params.LearningTrack, params.Currency)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, err, "resolving course price")
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return nil, errors.New(errors.CodeValidation, "course has no price for this track and currency")
	}

	total := price
	var referral *dbmodels.ReferralCode
	if params.ReferralCode != "" {
		referral, err = s.repo.FindReferralCode(ctx, params.ReferralCode)
		if err != nil {
			return nil, errors.Wrap(errors.CodeInternal, err, "looking up referral code")
		}
		if referral == nil {
			return nil, errors.New(errors.CodeValidation, "referral code is invalid or inactive")
		}
		discount := total.Mul(referral.DiscountPercent).Div(decimal.NewFromInt(100)).Round(2)
		total = total.Sub(discount)
	}

	installments := 1
	installmentAmount := total
	if params.PaymentType == enums.PaymentTypeInstallment {
		installments = params.TotalInstallments
		if installments < 2 || installments > course.MaxInstallments {
			return nil, errors.New(errors.CodeValidation,
				fmt.Sprintf("installment count must be between 2 and %d", course.MaxInstallments))
		}
		installmentAmount = total.DivRound(decimal.NewFromInt(int64(installments)), 2)
	}

	enrollment := &dbmodels.Enrollment{
		UserID:            params.UserID,
		CourseID:          params.CourseID,
		LearningTrack:     params.LearningTrack,
		PaymentType:       params.PaymentType,
		Currency:          params.Currency,
		CoursePrice:       price,
		TotalAmount:       total,
		AmountPaid:        decimal.Zero,
		TotalInstallments: installments,
		InstallmentsPaid:  0,
		InstallmentAmount: installmentAmount,
		PaymentStatus:     enums.PaymentStatusPending,
		HasAccess:         false,
		EnrollmentDate:    s.now().UTC(),
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.Create(ctx, enrollment); err != nil {
			if db.IsUniqueViolation(err, "uq_enrollments_user_course") {
				return errors.New(errors.CodeConflict, "user is already enrolled in this course")
			}
			return errors.Wrap(errors.CodeInternal, err, "creating enrollment")
		}
		if referral != nil {
			history := &dbmodels.ReferralHistory{
				ReferralCodeID: referral.ID,
				ReferredUserID: params.UserID,
				EnrollmentID:   enrollment.ID,
			}
			if err := txRepo.CreateReferralHistory(ctx, history); err != nil {
				return errors.Wrap(errors.CodeInternal, err, "recording referral redemption")
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithEnrollmentID(ctx, enrollment.ID.String())
	ctx = s.logg.WithCourseID(ctx, enrollment.CourseID.String())
	s.logg.Info(ctx, "enrollment created")

	return enrollment, nil
}

// Get returns an enrollment by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*dbmodels.Enrollment, error) {
	enrollment, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, errors.Wrap(errors.CodeInternal, err, "loading enrollment")
	}
	if enrollment == nil {
		return nil, errors.New(errors.CodeNotFound, "enrollment not found")
	}
	return enrollment, nil
}

// ListByUser pages through a user's enrollments, newest first.
func (s *Service) ListByUser(ctx context.Context, userID uuid.UUID, cursor *pagination.Cursor, limit int) ([]dbmodels.Enrollment, *pagination.Cursor, error) {
	user, err := s.repo.FindUser(ctx, userID)
	if err != nil {
		return nil, nil, errors.Wrap(errors.CodeInternal, err, "looking up user")
	}
	if user == nil {
		return nil, nil, errors.New(errors.CodeNotFound, "user not found")
	}
	rows, next, err := s.repo.ListByUser(ctx, userID, cursor, limit)
	if err != nil {
		return nil, nil, errors.Wrap(errors.CodeInternal, err, "listing enrollments")
	}
	return rows, next, nil
}

// AccessSnapshot is the result of an access check: the policy verdict computed
// from the current ledger, alongside the stored flag the sweeps maintain.
type AccessSnapshot struct {
	EnrollmentID  uuid.UUID
	HasAccess     bool
	StoredAccess  bool
	BlockedReason string
	DaysOverdue   int
}

// CheckAccess recomputes the access verdict from the enrollment's payment
// state. The stored flag is reported too so callers can spot drift between a
// sweep cycle and the live policy.
func (s *Service) CheckAccess(ctx context.Context, id uuid.UUID) (*AccessSnapshot, error) {
	enrollment, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &AccessSnapshot{
		EnrollmentID:  enrollment.ID,
		HasAccess:     ShouldHaveAccess(*enrollment, now),
		StoredAccess:  enrollment.HasAccess,
		BlockedReason: AccessBlockedReason(*enrollment, now),
		DaysOverdue:   DaysOverdue(*enrollment, now),
	}, nil
}
