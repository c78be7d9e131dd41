package routes

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/internal/messaging"
	"github.com/learnexity/learnexity-backend/internal/notify"
	"github.com/learnexity/learnexity-backend/internal/payments"
	"github.com/learnexity/learnexity-backend/pkg/config"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/pagination"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubEnrollmentRepo struct{}

func (s stubEnrollmentRepo) WithTx(*gorm.DB) enrollments.Repository { return s }

func (stubEnrollmentRepo) Create(context.Context, *models.Enrollment) error { return nil }

func (stubEnrollmentRepo) FindByID(context.Context, uuid.UUID) (*models.Enrollment, error) {
	return nil, nil
}

func (stubEnrollmentRepo) FindByIDForUpdate(context.Context, uuid.UUID) (*models.Enrollment, error) {
	return nil, nil
}

func (stubEnrollmentRepo) FindByUserAndCourse(context.Context, uuid.UUID, uuid.UUID) (*models.Enrollment, error) {
	return nil, nil
}

func (stubEnrollmentRepo) Save(context.Context, *models.Enrollment) error { return nil }

func (stubEnrollmentRepo) UpdateAccess(context.Context, uuid.UUID, bool) error { return nil }

func (stubEnrollmentRepo) ListByUser(context.Context, uuid.UUID, *pagination.Cursor, int) ([]models.Enrollment, *pagination.Cursor, error) {
	return nil, nil, nil
}

func (stubEnrollmentRepo) ListOverdueWithAccess(context.Context, time.Time, uuid.UUID, int) ([]models.Enrollment, error) {
	return nil, nil
}

func (stubEnrollmentRepo) ListActiveInstallments(context.Context, uuid.UUID, int) ([]models.Enrollment, error) {
	return nil, nil
}

func (stubEnrollmentRepo) FindCourse(context.Context, uuid.UUID) (*models.Course, error) {
	return nil, nil
}

func (stubEnrollmentRepo) FindUser(context.Context, uuid.UUID) (*models.User, error) {
	return nil, nil
}

func (stubEnrollmentRepo) FindReferralCode(context.Context, string) (*models.ReferralCode, error) {
	return nil, nil
}

func (stubEnrollmentRepo) CreateReferralHistory(context.Context, *models.ReferralHistory) error {
	return nil
}

type stubLedger struct{}

func (s stubLedger) WithTx(*gorm.DB) payments.Repository { return s }

func (stubLedger) Create(context.Context, *models.InstallmentPayment) error { return nil }

func (stubLedger) ListByEnrollment(context.Context, uuid.UUID) ([]models.InstallmentPayment, error) {
	return nil, nil
}

func (stubLedger) FindByTransactionID(context.Context, string) (*models.InstallmentPayment, error) {
	return nil, nil
}

type stubTx struct{}

func (stubTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type stubNotifier struct{}

func (stubNotifier) SendPaymentConfirmation(context.Context, models.User, models.Enrollment, int) error {
	return nil
}

func (stubNotifier) SendBulkMessage(context.Context, models.User, string, string) error { return nil }

type stubRecipients struct{}

func (stubRecipients) ListRecipients(context.Context, []uuid.UUID) ([]models.User, error) {
	return nil, nil
}

type stubNotificationRepo struct{}

func (stubNotificationRepo) Create(context.Context, *models.Notification) error { return nil }

func (stubNotificationRepo) ListByUser(context.Context, uuid.UUID, *pagination.Cursor, int) ([]models.Notification, *pagination.Cursor, error) {
	return nil, nil, nil
}

type stubGeo struct{}

func (stubGeo) CurrencyForIP(context.Context, string) enums.Currency { return enums.CurrencyUSD }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "routes-test", Level: zerolog.Disabled, Output: io.Discard})

	enrollSvc, err := enrollments.NewService(enrollments.ServiceParams{
		Repo:   stubEnrollmentRepo{},
		Tx:     stubTx{},
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("enrollments service: %v", err)
	}
	paySvc, err := payments.NewService(payments.ServiceParams{
		Ledger:      stubLedger{},
		Enrollments: stubEnrollmentRepo{},
		Tx:          stubTx{},
		Notifier:    stubNotifier{},
		Logger:      logg,
	})
	if err != nil {
		t.Fatalf("payments service: %v", err)
	}
	msgSvc, err := messaging.NewService(messaging.ServiceParams{
		Repo:     stubRecipients{},
		Notifier: stubNotifier{},
		Logger:   logg,
	})
	if err != nil {
		t.Fatalf("messaging service: %v", err)
	}

	var repo notify.Repository = stubNotificationRepo{}

	return NewRouter(RouterParams{
		Config:        &config.Config{App: config.AppConfig{Env: "test", Port: "8080"}},
		Logger:        logg,
		DB:            stubPinger{},
		Redis:         stubPinger{},
		Enrollments:   enrollSvc,
		Payments:      paySvc,
		Messaging:     msgSvc,
		Notifications: repo,
		Geo:           stubGeo{},
		Metrics:       prometheus.NewRegistry(),
	})
}

func TestRouterHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, rec.Code)
		}
		if got := rec.Header().Get("X-Learnexity-Env"); got != "test" {
			t.Fatalf("GET %s: env header %q", path, got)
		}
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status %d", rec.Code)
	}
}

func TestRouterValidationFailures(t *testing.T) {
	router := newTestRouter(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{
			name:   "enrollment body missing fields",
			method: http.MethodPost,
			path:   "/api/v1/enrollments",
			body:   `{}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "enrollment id not a uuid",
			method: http.MethodGet,
			path:   "/api/v1/enrollments/not-a-uuid",
			status: http.StatusBadRequest,
		},
		{
			name:   "webhook missing transaction id",
			method: http.MethodPost,
			path:   "/api/v1/webhooks/payment",
			body:   `{"enrollment_id":"` + uuid.NewString() + `","status":"success"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "broadcast missing subject",
			method: http.MethodPost,
			path:   "/api/admin/v1/messages",
			body:   `{"body":"hello"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown route",
			method: http.MethodGet,
			path:   "/api/v1/unknown",
			status: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req *http.Request
			if tt.body != "" {
				req = httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
				req.Header.Set("Content-Type", "application/json")
			} else {
				req = httptest.NewRequest(tt.method, tt.path, nil)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("%s %s: status %d, want %d (body %s)", tt.method, tt.path, rec.Code, tt.status, rec.Body.String())
			}
		})
	}
}

func TestRouterEnrollmentNotFound(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/enrollments/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown enrollment, got %d", rec.Code)
	}
}
