package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/learnexity/learnexity-backend/api/responses"
	"github.com/learnexity/learnexity-backend/api/validators"
	"github.com/learnexity/learnexity-backend/internal/notify"
	pkgerrors "github.com/learnexity/learnexity-backend/pkg/errors"
	"github.com/learnexity/learnexity-backend/pkg/logger"
	"github.com/learnexity/learnexity-backend/pkg/pagination"
)

type notificationResponse struct {
	ID           uuid.UUID  `json:"id"`
	EnrollmentID *uuid.UUID `json:"enrollment_id,omitempty"`
	Type         string     `json:"type"`
	Subject      string     `json:"subject"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

type notificationListResponse struct {
	Notifications []notificationResponse `json:"notifications"`
	NextCursor    string                 `json:"next_cursor,omitempty"`
}

// ListNotifications pages newest-first through a user's notification history.
func ListNotifications(repo notify.Repository, logg *logger.Logger) http.HandlerFunc {
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

		rows, next, err := repo.ListByUser(r.Context(), userID, cursor, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing notifications"))
			return
		}

		resp := notificationListResponse{Notifications: make([]notificationResponse, 0, len(rows))}
		for _, row := range rows {
			resp.Notifications = append(resp.Notifications, notificationResponse{
				ID:           row.ID,
				EnrollmentID: row.EnrollmentID,
				Type:         row.Type.String(),
				Subject:      row.Subject,
				SentAt:       row.SentAt,
				CreatedAt:    row.CreatedAt,
			})
		}
		if next != nil {
			resp.NextCursor = pagination.EncodeCursor(*next)
		}
		responses.WriteSuccess(w, resp)
	}
}
