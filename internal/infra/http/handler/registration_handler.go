package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openctemio/webhooks/internal/app"
	"github.com/openctemio/webhooks/pkg/apierror"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
	"github.com/openctemio/webhooks/pkg/validator"
)

// RegistrationService is the registration management used by the handler.
type RegistrationService interface {
	List(ctx context.Context, userID string) ([]*webhook.Registration, error)
	Get(ctx context.Context, userID, id string) (*webhook.Registration, error)
	Create(ctx context.Context, userID string, in app.RegistrationInput) (*webhook.Registration, error)
	Update(ctx context.Context, userID string, in app.RegistrationInput) (*webhook.Registration, error)
	SetPaused(ctx context.Context, userID, id string, paused bool) (*webhook.Registration, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) error
}

var _ RegistrationService = (*app.RegistrationsManager)(nil)

// RegistrationHandler handles the registration control API.
type RegistrationHandler struct {
	service    RegistrationService
	validator  *validator.Validator
	properties *validator.PropertiesValidator
	logger     *logger.Logger
}

// NewRegistrationHandler creates a new RegistrationHandler.
func NewRegistrationHandler(svc RegistrationService, v *validator.Validator, log *logger.Logger) *RegistrationHandler {
	return &RegistrationHandler{
		service:    svc,
		validator:  v,
		properties: validator.NewPropertiesValidator(),
		logger:     log.With("handler", "registrations"),
	}
}

// --- Request/Response Types ---

// RegistrationRequest is the body of create and update calls.
type RegistrationRequest struct {
	ID          string            `json:"id" validate:"omitempty,max=128,registration_id"`
	CallbackURI string            `json:"callback_uri" validate:"required,url,max=2048"`
	Secret      string            `json:"secret" validate:"omitempty,min=32,max=64"`
	Description string            `json:"description" validate:"max=1000"`
	Filters     []string          `json:"filters" validate:"required,min=1,max=100,dive,required,filter_name"`
	Headers     map[string]string `json:"headers" validate:"omitempty,max=20,dive,keys,header_name,endkeys,max=1024"`
	Properties  map[string]any    `json:"properties"`
	IsPaused    bool              `json:"is_paused"`
	Version     string            `json:"version" validate:"max=64"`
}

// RegistrationResponse is a registration as returned by the API. The secret
// is never returned.
type RegistrationResponse struct {
	ID          string            `json:"id"`
	CallbackURI string            `json:"callback_uri"`
	HasSecret   bool              `json:"has_secret"`
	Description string            `json:"description,omitempty"`
	Filters     []string          `json:"filters"`
	Headers     map[string]string `json:"headers,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty"`
	IsPaused    bool              `json:"is_paused"`
	Version     string            `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func toRegistrationResponse(r *webhook.Registration) RegistrationResponse {
	headers := r.Headers()
	for name := range headers {
		if webhook.IsSensitiveHeader(name) {
			headers[name] = webhook.MaskedHeaderValue
		}
	}
	return RegistrationResponse{
		ID:          r.ID(),
		CallbackURI: r.CallbackURI(),
		HasSecret:   r.HasSecret(),
		Description: r.Description(),
		Filters:     r.Filters(),
		Headers:     headers,
		Properties:  r.Properties(),
		IsPaused:    r.IsPaused(),
		Version:     r.Version(),
		CreatedAt:   r.CreatedAt(),
		UpdatedAt:   r.UpdatedAt(),
	}
}

func (req RegistrationRequest) toInput() app.RegistrationInput {
	return app.RegistrationInput{
		ID:          req.ID,
		CallbackURI: req.CallbackURI,
		Secret:      req.Secret,
		Description: req.Description,
		Filters:     req.Filters,
		Headers:     req.Headers,
		Properties:  req.Properties,
		IsPaused:    req.IsPaused,
		Version:     req.Version,
	}
}

func (h *RegistrationHandler) decode(w http.ResponseWriter, r *http.Request) (RegistrationRequest, bool) {
	var req RegistrationRequest
	if apiErr := decodeJSON(r, &req); apiErr != nil {
		apiErr.WriteJSON(w)
		return req, false
	}
	if err := h.validator.Validate(req); err != nil {
		writeError(w, r, h.logger, err)
		return req, false
	}
	if errs := h.properties.ValidateProperties(req.Properties); len(errs) > 0 {
		writeError(w, r, h.logger, errs.ToValidationErrors())
		return req, false
	}
	return req, true
}

func writeRegistration(w http.ResponseWriter, status int, reg *webhook.Registration) {
	if etag := formatETag(reg.Version()); etag != "" {
		w.Header().Set("ETag", etag)
	}
	writeJSON(w, status, toRegistrationResponse(reg))
}

// --- Handlers ---

// List handles GET /api/v1/registrations
func (h *RegistrationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	regs, err := h.service.List(r.Context(), userID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	data := make([]RegistrationResponse, len(regs))
	for i, reg := range regs {
		data[i] = toRegistrationResponse(reg)
	}
	writeJSON(w, http.StatusOK, ListResponse[RegistrationResponse]{Data: data, Total: len(data)})
}

// Get handles GET /api/v1/registrations/{id}
func (h *RegistrationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	reg, err := h.service.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeRegistration(w, http.StatusOK, reg)
}

// Create handles POST /api/v1/registrations
func (h *RegistrationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	reg, err := h.service.Create(r.Context(), userID, req.toInput())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+reg.ID())
	writeRegistration(w, http.StatusCreated, reg)
}

// Update handles PUT /api/v1/registrations/{id}. The If-Match header, when
// present, takes precedence over the version in the body.
func (h *RegistrationHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	req, ok := h.decode(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if req.ID != "" && req.ID != id {
		apierror.BadRequest("Body id does not match the path").WriteJSON(w)
		return
	}
	req.ID = id
	if ifMatch := r.Header.Get("If-Match"); ifMatch != "" {
		req.Version = parseIfMatch(ifMatch)
	}

	reg, err := h.service.Update(r.Context(), userID, req.toInput())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeRegistration(w, http.StatusOK, reg)
}

// Pause handles POST /api/v1/registrations/{id}/pause
func (h *RegistrationHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Resume handles POST /api/v1/registrations/{id}/resume
func (h *RegistrationHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *RegistrationHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	reg, err := h.service.SetPaused(r.Context(), userID, chi.URLParam(r, "id"), paused)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeRegistration(w, http.StatusOK, reg)
}

// Delete handles DELETE /api/v1/registrations/{id}
func (h *RegistrationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll handles DELETE /api/v1/registrations
func (h *RegistrationHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteAll(r.Context(), userID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
