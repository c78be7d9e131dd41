package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnexity/learnexity-backend/api/responses"
	"github.com/learnexity/learnexity-backend/api/validators"
	"github.com/learnexity/learnexity-backend/internal/payments"
	"github.com/learnexity/learnexity-backend/pkg/db/models"
	pkgerrors "github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

type confirmPaymentRequest struct {
	EnrollmentID  string `json:"enrollment_id" validate:"required,uuid"`
	TransactionID string `json:"transaction_id" validate:"omitempty,max=128"`
	Amount        string `json:"amount" validate:"omitempty,max=32"`
}

// parseOptionalAmount reads a gateway-supplied charge so it can be checked
// against the plan. An absent amount is fine; the plan knows its price.
func parseOptionalAmount(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount")
	}
	return &amount, nil
}

// ConfirmPayment applies a confirmed payment to an enrollment and returns the
// updated plan state.
func ConfirmPayment(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req confirmPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		enrollmentID, err := uuid.Parse(req.EnrollmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid enrollment id"))
			return
		}
		amount, err := parseOptionalAmount(req.Amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		enrollment, err := svc.Confirm(r.Context(), enrollmentID, req.TransactionID, amount)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newEnrollmentResponse(enrollment))
	}
}

type paymentHistoryEntry struct {
	ID                uuid.UUID  `json:"id"`
	InstallmentNumber int        `json:"installment_number"`
	Amount            string     `json:"amount"`
	Currency          string     `json:"currency"`
	Status            string     `json:"status"`
	TransactionID     *string    `json:"transaction_id,omitempty"`
	PaidAt            *time.Time `json:"paid_at,omitempty"`
}

// GetPaymentHistory lists an enrollment's payment ledger in installment order.
func GetPaymentHistory(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollmentID, err := uuid.Parse(chi.URLParam(r, "enrollmentID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid enrollment id"))
			return
		}

		history, err := svc.History(r.Context(), enrollmentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		entries := make([]paymentHistoryEntry, 0, len(history))
		for _, entry := range history {
			entries = append(entries, newPaymentHistoryEntry(entry))
		}
		responses.WriteSuccess(w, entries)
	}
}

func newPaymentHistoryEntry(entry models.InstallmentPayment) paymentHistoryEntry {
	return paymentHistoryEntry{
		ID:                entry.ID,
		InstallmentNumber: entry.InstallmentNumber,
		Amount:            entry.Amount.StringFixed(2),
		Currency:          entry.Currency.String(),
		Status:            entry.Status.String(),
		TransactionID:     entry.TransactionID,
		PaidAt:            entry.PaidAt,
	}
}
