package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"intake-bot-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// EventHandler applies asynchronous notifications
type EventHandler interface {
	Handle(ctx context.Context, event services.Event) error
}

// NotificationHandler handles notifications posted by other services
type NotificationHandler struct {
	events EventHandler
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(events EventHandler) *NotificationHandler {
	return &NotificationHandler{
		events: events,
	}
}

// PostNotification handles POST /api/v1/notifications
func (h *NotificationHandler) PostNotification(w http.ResponseWriter, r *http.Request) {
	var event services.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.events.Handle(r.Context(), event); err != nil {
		log.Error().
			Err(err).
			Str("type", string(event.Kind)).
			Int64("user_id", event.SubjectUserID).
			Msg("Failed to handle notification")

		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, map[string]string{"status": "accepted"}, http.StatusAccepted)
}
