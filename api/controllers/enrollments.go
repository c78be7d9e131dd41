package controllers

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnexity/learnexity-backend/api/responses"
	"github.com/learnexity/learnexity-backend/api/validators"
	"github.com/learnexity/learnexity-backend/internal/enrollments"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	"github.com/learnexity/learnexity-backend/pkg/enums"
	pkgerrors "github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/pagination"
)

// CurrencyResolver maps a client IP to a billing currency.
type CurrencyResolver interface {
	CurrencyForIP(ctx context.Context, ip string) enums.Currency
}

type createEnrollmentRequest struct {
	UserID            string `json:"user_id" validate:"required,uuid"`
	CourseID          string `json:"course_id" validate:"required,uuid"`
	LearningTrack     string `json:"learning_track" validate:"required,oneof=one_on_one group_mentorship self_paced"`
	PaymentType       string `json:"payment_type" validate:"required,oneof=onetime installment"`
	Currency          string `json:"currency" validate:"omitempty,oneof=USD NGN"`
	TotalInstallments int    `json:"total_installments" validate:"omitempty,min=2,max=12"`
	ReferralCode      string `json:"referral_code" validate:"omitempty,max=64"`
}

type enrollmentResponse struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	CourseID          uuid.UUID  `json:"course_id"`
	LearningTrack     string     `json:"learning_track"`
	PaymentType       string     `json:"payment_type"`
	Currency          string     `json:"currency"`
	CoursePrice       string     `json:"course_price"`
	TotalAmount       string     `json:"total_amount"`
	AmountPaid        string     `json:"amount_paid"`
	TotalInstallments int        `json:"total_installments"`
	InstallmentsPaid  int        `json:"installments_paid"`
	InstallmentAmount string     `json:"installment_amount"`
	PaymentStatus     string     `json:"payment_status"`
	HasAccess         bool       `json:"has_access"`
	NextPaymentDue    *time.Time `json:"next_payment_due,omitempty"`
	EnrollmentDate    time.Time  `json:"enrollment_date"`
}

func newEnrollmentResponse(e *models.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:                e.ID,
		UserID:            e.UserID,
		CourseID:          e.CourseID,
		LearningTrack:     e.LearningTrack.String(),
		PaymentType:       e.PaymentType.String(),
		Currency:          e.Currency.String(),
		CoursePrice:       e.CoursePrice.StringFixed(2),
		TotalAmount:       e.TotalAmount.StringFixed(2),
		AmountPaid:        e.AmountPaid.StringFixed(2),
		TotalInstallments: e.TotalInstallments,
		InstallmentsPaid:  e.InstallmentsPaid,
		InstallmentAmount: e.InstallmentAmount.StringFixed(2),
		PaymentStatus:     e.PaymentStatus.String(),
		HasAccess:         e.HasAccess,
		NextPaymentDue:    e.NextPaymentDue,
		EnrollmentDate:    e.EnrollmentDate,
	}
}

// CreateEnrollment enrolls a user in a course. When the body omits the
// currency the client IP decides it: Nigerian traffic is priced in NGN,
// everything else in USD.
func CreateEnrollment(svc *enrollments.Service, geo CurrencyResolver, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEnrollmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}
		courseID, err := uuid.Parse(req.CourseID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid course id"))
			return
		}

		currency := enums.Currency(req.Currency)
		if req.Currency == "" {
			currency = geo.CurrencyForIP(r.Context(), clientIP(r))
		}

		enrollment, err := svc.Enroll(r.Context(), enrollments.EnrollParams{
			UserID:            userID,
			CourseID:          courseID,
			LearningTrack:     enums.LearningTrack(req.LearningTrack),
			PaymentType:       enums.PaymentType(req.PaymentType),
			Currency:          currency,
			TotalInstallments: req.TotalInstallments,
			ReferralCode:      strings.TrimSpace(req.ReferralCode),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newEnrollmentResponse(enrollment))
	}
}

// GetEnrollment returns one enrollment by id.
func GetEnrollment(svc *enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "enrollmentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid enrollment id"))
			return
		}
		enrollment, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEnrollmentResponse(enrollment))
	}
}

type enrollmentListResponse struct {
	Enrollments []enrollmentResponse `json:"enrollments"`
	NextCursor  string               `json:"next_cursor,omitempty"`
}

// ListUserEnrollments pages newest-first through a user's enrollments.
func ListUserEnrollments(svc *enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := uuid.Parse(chi.URLParam(r, "userID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var cursor *pagination.Cursor
		if raw := strings.TrimSpace(r.URL.Query().Get("cursor")); raw != "" {
			cursor, err = pagination.ParseCursor(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
				return
			}
		}

		rows, next, err := svc.ListByUser(r.Context(), userID, cursor, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		resp := enrollmentListResponse{Enrollments: make([]enrollmentResponse, 0, len(rows))}
		for i := range rows {
			resp.Enrollments = append(resp.Enrollments, newEnrollmentResponse(&rows[i]))
		}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, resp)
	}
}

type accessResponse struct {
	EnrollmentID  uuid.UUID `json:"enrollment_id"`
	HasAccess     bool      `json:"has_access"`
	StoredAccess  bool      `json:"stored_access"`
	BlockedReason string    `json:"blocked_reason,omitempty"`
	DaysOverdue   int       `json:"days_overdue,omitempty"`
}

// GetEnrollmentAccess returns the live policy verdict for an enrollment.
func GetEnrollmentAccess(svc *enrollments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "enrollmentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid enrollment id"))
			return
		}
		snapshot, err := svc.CheckAccess(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, accessResponse{
			EnrollmentID:  snapshot.EnrollmentID,
			HasAccess:     snapshot.HasAccess,
			StoredAccess:  snapshot.StoredAccess,
			BlockedReason: snapshot.BlockedReason,
			DaysOverdue:   snapshot.DaysOverdue,
		})
	}
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
