package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/openctemio/webhooks/internal/app"
	"github.com/openctemio/webhooks/pkg/apierror"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
	"github.com/openctemio/webhooks/pkg/validator"
)

// Notifier fires actions to matching registrations.
type Notifier interface {
	NotifyMany(ctx context.Context, userID string, notifications ...webhook.Notification) (app.DispatchResult, error)
	NotifyAll(ctx context.Context, action string, data any) (app.DispatchResult, error)
}

var _ Notifier = (*app.WebhookManager)(nil)

// NotifyHandler lets callers fire actions over HTTP.
type NotifyHandler struct {
	notifier  Notifier
	validator *validator.Validator
	logger    *logger.Logger
}

// NewNotifyHandler creates a new NotifyHandler.
func NewNotifyHandler(n Notifier, v *validator.Validator, log *logger.Logger) *NotifyHandler {
	return &NotifyHandler{
		notifier:  n,
		validator: v,
		logger:    log.With("handler", "notify"),
	}
}

// NotificationRequest is one action and its payload.
type NotificationRequest struct {
	Action string          `json:"action" validate:"required,filter_name"`
	Data   json.RawMessage `json:"data"`
}

// NotifyRequest carries either a single action or a batch.
type NotifyRequest struct {
	Action        string                `json:"action" validate:"omitempty,filter_name"`
	Data          json.RawMessage       `json:"data"`
	Notifications []NotificationRequest `json:"notifications" validate:"omitempty,max=100,dive"`
}

// BroadcastRequest fires one action for every user.
type BroadcastRequest struct {
	Action string          `json:"action" validate:"required,filter_name"`
	Data   json.RawMessage `json:"data"`
}

func toNotification(action string, data json.RawMessage) webhook.Notification {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return webhook.Notification{Action: action, Data: data}
}

// Notify handles POST /api/v1/notify for the calling user.
func (h *NotifyHandler) Notify(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req NotifyRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	var batch []webhook.Notification
	if req.Action != "" {
		batch = append(batch, toNotification(req.Action, req.Data))
	}
	for _, n := range req.Notifications {
		batch = append(batch, toNotification(n.Action, n.Data))
	}
	if len(batch) == 0 {
		apierror.BadRequest("No notifications given").WriteJSON(w)
		return
	}

	result, err := h.notifier.NotifyMany(r.Context(), userID, batch...)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}

// Broadcast handles POST /api/v1/admin/notify.
func (h *NotifyHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	var req BroadcastRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return
	}
	if err := h.validator.Validate(req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	result, err := h.notifier.NotifyAll(r.Context(), req.Action, data)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, result)
}
