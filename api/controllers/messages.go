package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/learnexity/learnexity-backend/api/responses"
	"github.com/learnexity/learnexity-backend/api/validators"
	"github.com/learnexity/learnexity-backend/internal/messaging"
	pkgerrors "github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
)

type broadcastRequest struct {
	Subject string   `json:"subject" validate:"required,max=200"`
	Body    string   `json:"body" validate:"required,max=10000"`
	UserIDs []string `json:"user_ids" validate:"omitempty,dive,uuid"`
}

// BroadcastMessage fans a message out to students. The fan-out can run for
// minutes on a large list, so it happens in the background and the request
// returns 202 immediately; totals land in the logs.
func BroadcastMessage(svc *messaging.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req broadcastRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		userIDs := make([]uuid.UUID, 0, len(req.UserIDs))
		for _, raw := range req.UserIDs {
			id, err := uuid.Parse(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id"))
				return
			}
			userIDs = append(userIDs, id)
		}

		// Detach from the request context: the broadcast outlives the response.
		broadcastCtx := logg.WithRequestID(context.Background(), r.Header.Get("X-Request-Id"))
		go func() {
			if _, err := svc.BroadcastWithRetry(broadcastCtx, req.Subject, req.Body, userIDs); err != nil {
				logg.Error(broadcastCtx, "background broadcast failed", err)
			}
		}()

		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
			"status":     "accepted",
			"recipients": len(userIDs),
		})
	}
}
