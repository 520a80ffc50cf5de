package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
	"github.com/openctemio/webhooks/pkg/logger"
)

// Secret length bounds for registrations.
const (
	MinSecretLength = 32
	MaxSecretLength = 64
)

var reservedHeaders = map[string]bool{
	"Content-Type":      true,
	"Content-Length":    true,
	"Content-Encoding":  true,
	"Host":              true,
	"Transfer-Encoding": true,
	"User-Agent":        true,
}

// FilterValidator is the part of the filter catalog used for validation.
type FilterValidator interface {
	IsValid(name string) bool
}

// RegistrationsManagerConfig configures per-user policy.
type RegistrationsManagerConfig struct {
	// MaxPerUser caps registrations per user. Zero disables the cap.
	MaxPerUser int
	Policy     webhook.CallbackPolicy
}

// RegistrationsManager validates and persists a user's registrations.
type RegistrationsManager struct {
	store   webhook.Store
	filters FilterValidator
	config  RegistrationsManagerConfig
	logger  *logger.Logger
}

// NewRegistrationsManager creates a new RegistrationsManager.
func NewRegistrationsManager(store webhook.Store, filters FilterValidator, cfg RegistrationsManagerConfig, log *logger.Logger) *RegistrationsManager {
	return &RegistrationsManager{
		store:   store,
		filters: filters,
		config:  cfg,
		logger:  log.With("service", "registrations"),
	}
}

// RegistrationInput carries the caller-controlled fields of a registration.
type RegistrationInput struct {
	ID          string
	CallbackURI string
	Secret      string
	Description string
	Filters     []string
	Headers     map[string]string
	Properties  map[string]any
	IsPaused    bool

	// Version is the token from the last read. Empty on update means the
	// caller accepts overwriting whatever is stored.
	Version string
}

// List returns every registration of the user.
func (m *RegistrationsManager) List(ctx context.Context, userID string) ([]*webhook.Registration, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", shared.ErrUnauthorized)
	}
	return m.store.GetAll(ctx, userID)
}

// Get returns one registration.
func (m *RegistrationsManager) Get(ctx context.Context, userID, id string) (*webhook.Registration, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", shared.ErrUnauthorized)
	}
	return m.store.Get(ctx, userID, id)
}

// Create validates input, assigns an id when absent and inserts.
func (m *RegistrationsManager) Create(ctx context.Context, userID string, in RegistrationInput) (*webhook.Registration, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", shared.ErrUnauthorized)
	}

	r := webhook.NewRegistration(webhook.RegistrationParams{
		ID:          in.ID,
		UserID:      userID,
		CallbackURI: in.CallbackURI,
		Secret:      in.Secret,
		Description: in.Description,
		Filters:     in.Filters,
		Headers:     in.Headers,
		Properties:  in.Properties,
		IsPaused:    in.IsPaused,
	})
	if err := m.validate(r, in.ID != ""); err != nil {
		return nil, err
	}

	if err := m.store.InsertWithin(ctx, r, m.config.MaxPerUser); err != nil {
		if errors.Is(err, shared.ErrQuotaExceeded) {
			return nil, fmt.Errorf("%w: limit of %d per user", err, m.config.MaxPerUser)
		}
		return nil, err
	}

	m.logger.Info("registration created",
		"user_id", userID,
		"registration_id", r.ID(),
		"filters", r.Filters(),
	)
	return r, nil
}

// Update replaces the registration identified by in.ID. An empty secret
// keeps the stored one.
func (m *RegistrationsManager) Update(ctx context.Context, userID string, in RegistrationInput) (*webhook.Registration, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user is required", shared.ErrUnauthorized)
	}
	if in.ID == "" {
		return nil, shared.NewValidationError("id", "is required")
	}

	current, err := m.store.Get(ctx, userID, in.ID)
	if err != nil {
		return nil, err
	}

	secret := in.Secret
	if secret == "" {
		secret = current.Secret()
	}
	version := in.Version
	if version == "" {
		version = current.Version()
	}
	headers := in.Headers
	if len(headers) > 0 {
		stored := current.Headers()
		headers = make(map[string]string, len(in.Headers))
		for name, value := range in.Headers {
			if value == webhook.MaskedHeaderValue && webhook.IsSensitiveHeader(name) {
				value = stored[name]
			}
			headers[name] = value
		}
	}

	r := webhook.NewRegistration(webhook.RegistrationParams{
		ID:          in.ID,
		UserID:      userID,
		CallbackURI: in.CallbackURI,
		Secret:      secret,
		Description: in.Description,
		Filters:     in.Filters,
		Headers:     headers,
		Properties:  in.Properties,
		IsPaused:    in.IsPaused,
		Version:     version,
	})
	r.SetTimestamps(current.CreatedAt(), r.UpdatedAt())
	if err := m.validate(r, true); err != nil {
		return nil, err
	}

	if err := m.store.Update(ctx, r); err != nil {
		return nil, err
	}

	m.logger.Info("registration updated",
		"user_id", userID,
		"registration_id", r.ID(),
		"version", r.Version(),
	)
	return r, nil
}

// SetPaused pauses or resumes a registration without touching other fields.
func (m *RegistrationsManager) SetPaused(ctx context.Context, userID, id string, paused bool) (*webhook.Registration, error) {
	r, err := m.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if r.IsPaused() == paused {
		return r, nil
	}
	if paused {
		r.Pause()
	} else {
		r.Resume()
	}
	if err := m.store.Update(ctx, r); err != nil {
		return nil, err
	}
	m.logger.Info("registration pause state changed", "user_id", userID, "registration_id", id, "paused", paused)
	return r, nil
}

// Delete removes one registration.
func (m *RegistrationsManager) Delete(ctx context.Context, userID, id string) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", shared.ErrUnauthorized)
	}
	if err := m.store.Delete(ctx, userID, id); err != nil {
		return err
	}
	m.logger.Info("registration deleted", "user_id", userID, "registration_id", id)
	return nil
}

// DeleteAll removes every registration of the user.
func (m *RegistrationsManager) DeleteAll(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user is required", shared.ErrUnauthorized)
	}
	if err := m.store.DeleteAll(ctx, userID); err != nil {
		return err
	}
	m.logger.Info("all registrations deleted", "user_id", userID)
	return nil
}

func (m *RegistrationsManager) validate(r *webhook.Registration, checkID bool) error {
	ve := &shared.ValidationError{}

	if checkID {
		if err := shared.ValidateID(r.ID()); err != nil {
			if pe, ok := shared.AsValidationError(err); ok {
				ve.Fields = append(ve.Fields, pe.Fields...)
			}
		}
	}

	if len(r.Filters()) == 0 {
		ve.Add("filters", "at least one filter is required")
	}
	for _, f := range r.Filters() {
		if !m.filters.IsValid(f) {
			ve.Add("filters", fmt.Sprintf("unknown filter %q", f))
		}
	}

	if err := m.config.Policy.Validate(r.CallbackURI()); err != nil {
		if pe, ok := shared.AsValidationError(err); ok {
			ve.Fields = append(ve.Fields, pe.Fields...)
		} else {
			ve.Add("callback_uri", err.Error())
		}
	}

	if n := len(r.Secret()); n < MinSecretLength || n > MaxSecretLength {
		ve.Add("secret", fmt.Sprintf("must be between %d and %d characters", MinSecretLength, MaxSecretLength))
	}

	for name := range r.Headers() {
		canonical := http.CanonicalHeaderKey(name)
		if canonical == "" || reservedHeaders[canonical] || strings.HasPrefix(canonical, "X-Webhook-") {
			ve.Add("headers", fmt.Sprintf("header %q cannot be overridden", name))
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
