package payments

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/pagination"
)

type fakeEnrollmentRepo struct {
	enrollments map[uuid.UUID]*models.Enrollment
	users       map[uuid.UUID]*models.User
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{
		enrollments: map[uuid.UUID]*models.Enrollment{},
		users:       map[uuid.UUID]*models.User{},
	}
}

func (f *fakeEnrollmentRepo) WithTx(tx *gorm.DB) enrollments.Repository { return f }

func (f *fakeEnrollmentRepo) Create(_ context.Context, e *models.Enrollment) error {
	f.enrollments[e.ID] = e
	return nil
}

func (f *fakeEnrollmentRepo) FindByID(_ context.Context, id uuid.UUID) (*models.Enrollment, error) {
	e, ok := f.enrollments[id]
	if !ok {
		return nil, nil
	}
	copied := *e
	return &copied, nil
}

func (f *fakeEnrollmentRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeEnrollmentRepo) FindByUserAndCourse(context.Context, uuid.UUID, uuid.UUID) (*models.Enrollment, error) {
	return nil, nil
}

func (f *fakeEnrollmentRepo) Save(_ context.Context, e *models.Enrollment) error {
	copied := *e
	f.enrollments[e.ID] = &copied
	return nil
}

func (f *fakeEnrollmentRepo) UpdateAccess(_ context.Context, id uuid.UUID, hasAccess bool) error {
	if e, ok := f.enrollments[id]; ok {
		e.HasAccess = hasAccess
	}
	return nil
}

func (f *fakeEnrollmentRepo) ListByUser(context.Context, uuid.UUID, *pagination.Cursor, int) ([]models.Enrollment, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (f *fakeEnrollmentRepo) ListOverdueWithAccess(context.Context, time.Time, uuid.UUID, int) ([]models.Enrollment, error) {
	return nil, nil
}

func (f *fakeEnrollmentRepo) ListActiveInstallments(context.Context, uuid.UUID, int) ([]models.Enrollment, error) {
	return nil, nil
}

func (f *fakeEnrollmentRepo) FindCourse(context.Context, uuid.UUID) (*models.Course, error) {
	return nil, nil
}

func (f *fakeEnrollmentRepo) FindUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	return f.users[id], nil
}

func (f *fakeEnrollmentRepo) FindReferralCode(context.Context, string) (*models.ReferralCode, error) {
	return nil, nil
}

func (f *fakeEnrollmentRepo) CreateReferralHistory(context.Context, *models.ReferralHistory) error {
	return nil
}

type fakeLedger struct {
	entries []models.InstallmentPayment
	// missLookups makes the next N FindByTransactionID calls come back
	// empty, standing in for a concurrent delivery that commits between
	// the lookup and the row lock.
	missLookups int
}

func (f *fakeLedger) WithTx(tx *gorm.DB) Repository { return f }

func (f *fakeLedger) Create(_ context.Context, p *models.InstallmentPayment) error {
	if p.TransactionID != nil {
		for i := range f.entries {
			if f.entries[i].TransactionID != nil && *f.entries[i].TransactionID == *p.TransactionID {
				return fmt.Errorf("duplicate key value violates unique constraint %q", ledgerTransactionIndex)
			}
		}
	}
	f.entries = append(f.entries, *p)
	return nil
}

func (f *fakeLedger) ListByEnrollment(_ context.Context, id uuid.UUID) ([]models.InstallmentPayment, error) {
	var rows []models.InstallmentPayment
	for _, entry := range f.entries {
		if entry.EnrollmentID == id {
			rows = append(rows, entry)
		}
	}
	return rows, nil
}

func (f *fakeLedger) FindByTransactionID(_ context.Context, txnID string) (*models.InstallmentPayment, error) {
	if f.missLookups > 0 {
		f.missLookups--
		return nil, nil
	}
	for i := range f.entries {
		if f.entries[i].TransactionID != nil && *f.entries[i].TransactionID == txnID {
			return &f.entries[i], nil
		}
	}
	return nil, nil
}

type fakeNotifier struct {
	sent int
	err  error
}

func (f *fakeNotifier) SendPaymentConfirmation(context.Context, models.User, models.Enrollment, int) error {
	if f.err != nil {
		return f.err
	}
	f.sent++
	return nil
}

type fakeTx struct{}

func (fakeTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type fixture struct {
	svc      *Service
	repo     *fakeEnrollmentRepo
	ledger   *fakeLedger
	notifier *fakeNotifier
	now      time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newFakeEnrollmentRepo(),
		ledger:   &fakeLedger{},
		notifier: &fakeNotifier{},
		now:      time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	logg := logger.New(logger.Options{
		ServiceName: "payments-test",
		Level:       zerolog.Disabled,
		Output:      io.Discard,
	})
	svc, err := NewService(ServiceParams{
		Ledger:      f.ledger,
		Enrollments: f.repo,
		Tx:          fakeTx{},
		Notifier:    f.notifier,
		Logger:      logg,
		Now:         func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.svc = svc
	return f
}

func (f *fixture) seedInstallmentPlan(parts int) *models.Enrollment {
	userID := uuid.New()
	f.repo.users[userID] = &models.User{ID: userID, Email: "ada@example.com", FirstName: "Ada"}
	total := decimal.NewFromInt(int64(parts) * 100)
	e := &models.Enrollment{
		ID:                uuid.New(),
		UserID:            userID,
		CourseID:          uuid.New(),
		LearningTrack:     enums.TrackSelfPaced,
		PaymentType:       enums.PaymentTypeInstallment,
		Currency:          enums.CurrencyUSD,
		CoursePrice:       total,
		TotalAmount:       total,
		AmountPaid:        decimal.Zero,
		TotalInstallments: parts,
		InstallmentAmount: decimal.NewFromInt(100),
		PaymentStatus:     enums.PaymentStatusPending,
		EnrollmentDate:    f.now,
	}
	f.repo.enrollments[e.ID] = e
	return e
}

func (f *fixture) seedOnetime() *models.Enrollment {
	userID := uuid.New()
	f.repo.users[userID] = &models.User{ID: userID, Email: "obi@example.com", FirstName: "Obi"}
	e := &models.Enrollment{
		ID:                uuid.New(),
		UserID:            userID,
		CourseID:          uuid.New(),
		LearningTrack:     enums.TrackOneOnOne,
		PaymentType:       enums.PaymentTypeOnetime,
		Currency:          enums.CurrencyUSD,
		CoursePrice:       decimal.NewFromInt(500),
		TotalAmount:       decimal.NewFromInt(500),
		AmountPaid:        decimal.Zero,
		TotalInstallments: 1,
		InstallmentAmount: decimal.NewFromInt(500),
		PaymentStatus:     enums.PaymentStatusPending,
		EnrollmentDate:    f.now,
	}
	f.repo.enrollments[e.ID] = e
	return e
}

func TestRegisterInstallmentWalkToCompletion(t *testing.T) {
	f := setup(t)
	plan := f.seedInstallmentPlan(4)

	for i := 1; i <= 4; i++ {
		f.now = f.now.Add(14 * 24 * time.Hour)
		updated, err := f.svc.RegisterInstallment(context.Background(), plan.ID, fmt.Sprintf("txn-%d", i), nil)
		require.NoError(t, err)

		assert.Equal(t, i, updated.InstallmentsPaid)
		assert.True(t, updated.AmountPaid.Equal(decimal.NewFromInt(int64(i)*100)))
		assert.True(t, updated.HasAccess, "a registered payment always opens access")
		require.NotNil(t, updated.LastInstallmentPaidAt)
		assert.Equal(t, f.now, *updated.LastInstallmentPaidAt)

		if i < 4 {
			assert.Equal(t, enums.PaymentStatusPending, updated.PaymentStatus)
			require.NotNil(t, updated.NextPaymentDue)
			assert.Equal(t, f.now.Add(28*24*time.Hour), *updated.NextPaymentDue)
		} else {
			assert.Equal(t, enums.PaymentStatusCompleted, updated.PaymentStatus)
			assert.Nil(t, updated.NextPaymentDue, "a completed plan has no due clock")
			require.NotNil(t, updated.PaymentDate)
		}
	}

	entries, err := f.svc.History(context.Background(), plan.ID)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	for i, entry := range entries {
		assert.Equal(t, i+1, entry.InstallmentNumber)
		assert.Equal(t, enums.InstallmentStatusCompleted, entry.Status)
		assert.True(t, entry.Amount.Equal(decimal.NewFromInt(100)))
	}
	assert.Equal(t, 4, f.notifier.sent)
}

func TestRegisterInstallmentMisuse(t *testing.T) {
	f := setup(t)
	onetime := f.seedOnetime()

	_, err := f.svc.RegisterInstallment(context.Background(), onetime.ID, "txn-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStateConflict))

	stored := f.repo.enrollments[onetime.ID]
	assert.Equal(t, 0, stored.InstallmentsPaid, "a rejected registration must not mutate the plan")
	assert.True(t, stored.AmountPaid.IsZero())
	assert.Empty(t, f.ledger.entries)
}

func TestRegisterInstallmentOnCompletedPlan(t *testing.T) {
	f := setup(t)
	plan := f.seedInstallmentPlan(2)
	plan.InstallmentsPaid = 2
	plan.PaymentStatus = enums.PaymentStatusCompleted
	plan.HasAccess = true

	_, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-extra", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStateConflict))
}

func TestConfirmOnetime(t *testing.T) {
	f := setup(t)
	onetime := f.seedOnetime()

	updated, err := f.svc.ConfirmOnetime(context.Background(), onetime.ID, "txn-full", nil)
	require.NoError(t, err)

	assert.Equal(t, enums.PaymentStatusCompleted, updated.PaymentStatus)
	assert.True(t, updated.HasAccess)
	assert.True(t, updated.AmountPaid.Equal(decimal.NewFromInt(500)))
	assert.Nil(t, updated.NextPaymentDue)
	require.Len(t, f.ledger.entries, 1)
	assert.True(t, f.ledger.entries[0].Amount.Equal(decimal.NewFromInt(500)))

	_, err = f.svc.ConfirmOnetime(context.Background(), onetime.ID, "txn-again", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeStateConflict))
}

func TestConfirmRoutesByPlan(t *testing.T) {
	f := setup(t)
	plan := f.seedInstallmentPlan(3)
	onetime := f.seedOnetime()

	updated, err := f.svc.Confirm(context.Background(), plan.ID, "txn-a", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.InstallmentsPaid)
	assert.Equal(t, enums.PaymentStatusPending, updated.PaymentStatus)

	updated, err = f.svc.Confirm(context.Background(), onetime.ID, "txn-b", nil)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, updated.PaymentStatus)
}

func TestReplayedTransactionIsIgnored(t *testing.T) {
	f := setup(t)
	plan := f.seedInstallmentPlan(4)

	first, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-dup", nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.InstallmentsPaid)

	replayed, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-dup", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.InstallmentsPaid, "a replayed transaction must not advance the plan")
	assert.Len(t, f.ledger.entries, 1)
}

func TestConfirmCrossChecksAmount(t *testing.T) {
	f := setup(t)
	plan := f.seedInstallmentPlan(4)

	partial := decimal.NewFromInt(40)
	_, err := f.svc.Confirm(context.Background(), plan.ID, "txn-short", &partial)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))

	stored := f.repo.enrollments[plan.ID]
	assert.Equal(t, 0, stored.InstallmentsPaid, "a partial charge must not advance the plan")
	assert.Empty(t, f.ledger.entries)

	full := decimal.NewFromInt(100)
	updated, err := f.svc.Confirm(context.Background(), plan.ID, "txn-full", &full)
	require.NoError(t, err)
	assert.Equal(t, 1, updated.InstallmentsPaid)
}

func TestConfirmOnetimeCrossChecksAmount(t *testing.T) {
	f := setup(t)
	onetime := f.seedOnetime()

	short := decimal.NewFromInt(300)
	_, err := f.svc.ConfirmOnetime(context.Background(), onetime.ID, "txn-short", &short)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.CodeValidation))
	assert.Equal(t, enums.PaymentStatusPending, f.repo.enrollments[onetime.ID].PaymentStatus)
}

func TestReplayRecheckedUnderRowLock(t *testing.T) {
	f := setup(t)
	plan := f.seedInstallmentPlan(4)

	first, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-race", nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.InstallmentsPaid)

	// The second delivery's fast-path lookup ran before the first committed.
	f.ledger.missLookups = 1
	replayed, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-race", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.InstallmentsPaid, "concurrent replays must not each advance the plan")
	assert.Len(t, f.ledger.entries, 1)
}

func TestReplayCaughtByLedgerUniqueIndex(t *testing.T) {
	f := setup(t)
	plan := f.seedInstallmentPlan(4)

	first, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-race", nil)
	require.NoError(t, err)
	require.Equal(t, 1, first.InstallmentsPaid)

	// Both lookups miss; the ledger's unique index is the last line.
	f.ledger.missLookups = 2
	replayed, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-race", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, replayed.InstallmentsPaid)
	assert.Len(t, f.ledger.entries, 1)
}

func TestNotificationFailureDoesNotRollBack(t *testing.T) {
	f := setup(t)
	f.notifier.err = fmt.Errorf("smtp unavailable")
	plan := f.seedInstallmentPlan(4)

	updated, err := f.svc.RegisterInstallment(context.Background(), plan.ID, "txn-1", nil)
	require.NoError(t, err, "a failed receipt must never fail the payment")
	assert.Equal(t, 1, updated.InstallmentsPaid)
	assert.Len(t, f.ledger.entries, 1)
	assert.Equal(t, 0, f.notifier.sent)
}
