package controllers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/learnexity/learnexity-backend/api/responses"
	"github.com/learnexity/learnexity-backend/api/validators"
	"github.com/learnexity/learnexity-backend/internal/payments"
	pkgerrors "github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

type paymentWebhookRequest struct {
	EnrollmentID  string `json:"enrollment_id" validate:"required,uuid"`
	TransactionID string `json:"transaction_id" validate:"required,max=128"`
	Status        string `json:"status" validate:"required"`
	Amount        string `json:"amount" validate:"omitempty,max=32"`
}

// PaymentWebhook receives gateway callbacks. Only successful charges mutate
// state; anything else is acknowledged so the gateway stops retrying, and
// replays of an already-applied transaction are absorbed downstream.
func PaymentWebhook(svc *payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req paymentWebhookRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := strings.ToLower(strings.TrimSpace(req.Status))
		if status != "success" && status != "completed" {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"webhook_status": status,
				"transaction_id": req.TransactionID,
			})
			logg.Info(ctx, "ignoring non-success payment webhook")
			responses.WriteSuccess(w, map[string]string{"status": "ignored"})
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
