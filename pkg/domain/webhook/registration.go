package webhook

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/openctemio/webhooks/pkg/domain/shared"
)

// Domain errors.
var (
	ErrRegistrationNotFound = fmt.Errorf("%w: registration not found", shared.ErrNotFound)
	ErrRegistrationExists   = fmt.Errorf("%w: registration already exists", shared.ErrConflict)
	ErrVersionMismatch      = fmt.Errorf("%w: registration was modified concurrently", shared.ErrConflict)
	ErrRegistrationQuota    = fmt.Errorf("%w: registration limit reached", shared.ErrQuotaExceeded)
)

// sensitiveHeaders are custom headers encrypted at rest alongside the secret.
var sensitiveHeaders = map[string]bool{
	"Authorization":       true,
	"Proxy-Authorization": true,
	"Cookie":              true,
	"X-Api-Key":           true,
	"X-Auth-Token":        true,
}

// MaskedHeaderValue replaces sensitive header values in API responses. Sent
// back unchanged on update, it keeps the stored value.
const MaskedHeaderValue = "********"

// IsSensitiveHeader reports whether a custom header value is protected at rest.
func IsSensitiveHeader(name string) bool {
	return sensitiveHeaders[http.CanonicalHeaderKey(name)]
}

// Registration is a user-owned callback subscription.
type Registration struct {
	id          string
	userID      string
	callbackURI string
	secret      string
	description string
	filters     []string
	headers     map[string]string
	properties  map[string]any
	isPaused    bool
	version     string
	createdAt   time.Time
	updatedAt   time.Time
}

// RegistrationParams holds the caller-controlled fields of a registration.
type RegistrationParams struct {
	ID          string // Optional, generated when empty
	UserID      string
	CallbackURI string
	Secret      string
	Description string
	Filters     []string
	Headers     map[string]string
	Properties  map[string]any
	IsPaused    bool
	Version     string // Required for updates
}

// NewRegistration creates a registration from params. Filters are normalized.
func NewRegistration(p RegistrationParams) *Registration {
	now := time.Now().UTC()
	id := p.ID
	if id == "" {
		id = shared.NewID()
	}
	return &Registration{
		id:          id,
		userID:      p.UserID,
		callbackURI: strings.TrimSpace(p.CallbackURI),
		secret:      p.Secret,
		description: p.Description,
		filters:     NormalizeFilters(p.Filters),
		headers:     cloneHeaders(p.Headers),
		properties:  cloneProperties(p.Properties),
		isPaused:    p.IsPaused,
		version:     p.Version,
		createdAt:   now,
		updatedAt:   now,
	}
}

// Reconstruct creates a Registration from stored data without normalization.
func Reconstruct(p RegistrationParams, createdAt, updatedAt time.Time) *Registration {
	return &Registration{
		id:          p.ID,
		userID:      p.UserID,
		callbackURI: p.CallbackURI,
		secret:      p.Secret,
		description: p.Description,
		filters:     slices.Clone(p.Filters),
		headers:     cloneHeaders(p.Headers),
		properties:  cloneProperties(p.Properties),
		isPaused:    p.IsPaused,
		version:     p.Version,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

// --- Getters ---

func (r *Registration) ID() string                 { return r.id }
func (r *Registration) UserID() string             { return r.userID }
func (r *Registration) CallbackURI() string        { return r.callbackURI }
func (r *Registration) Secret() string             { return r.secret }
func (r *Registration) Description() string        { return r.description }
func (r *Registration) Filters() []string          { return slices.Clone(r.filters) }
func (r *Registration) Headers() map[string]string { return cloneHeaders(r.headers) }
func (r *Registration) Properties() map[string]any { return cloneProperties(r.properties) }
func (r *Registration) IsPaused() bool             { return r.isPaused }
func (r *Registration) Version() string            { return r.version }
func (r *Registration) CreatedAt() time.Time       { return r.createdAt }
func (r *Registration) UpdatedAt() time.Time       { return r.updatedAt }
func (r *Registration) HasSecret() bool            { return r.secret != "" }
func (r *Registration) Params() RegistrationParams { return r.params() }
func (r *Registration) Key() string                { return r.userID + "/" + r.id }
func (r *Registration) String() string             { return "registration " + r.Key() }

// --- Setters ---

// SetVersion records the token assigned by the store after a write.
func (r *Registration) SetVersion(v string) { r.version = v }

// SetTimestamps is used by stores that own the clock.
func (r *Registration) SetTimestamps(createdAt, updatedAt time.Time) {
	r.createdAt = createdAt
	r.updatedAt = updatedAt
}

// Touch bumps the update timestamp.
func (r *Registration) Touch() { r.updatedAt = time.Now().UTC() }

// Pause excludes the registration from dispatch.
func (r *Registration) Pause() {
	r.isPaused = true
	r.Touch()
}

// Resume re-enables dispatch.
func (r *Registration) Resume() {
	r.isPaused = false
	r.Touch()
}

// Matches reports whether the filter set selects the action. Matching is an
// exact, case-sensitive comparison; any one filter is enough.
func (r *Registration) Matches(action string) bool {
	for _, f := range r.filters {
		if f == WildcardFilter || f == action {
			return true
		}
	}
	return false
}

// Clone returns a deep copy safe to hand to another goroutine.
func (r *Registration) Clone() *Registration {
	c := *r
	c.filters = slices.Clone(r.filters)
	c.headers = cloneHeaders(r.headers)
	c.properties = cloneProperties(r.properties)
	return &c
}

// WithSecrets returns a copy whose secret and sensitive headers were replaced
// by transform. It is the hook used for encryption at rest.
func (r *Registration) WithSecrets(transform func(string) (string, error)) (*Registration, error) {
	c := r.Clone()
	if c.secret != "" {
		s, err := transform(c.secret)
		if err != nil {
			return nil, fmt.Errorf("secret: %w", err)
		}
		c.secret = s
	}
	for name, value := range c.headers {
		if !IsSensitiveHeader(name) || value == "" {
			continue
		}
		v, err := transform(value)
		if err != nil {
			return nil, fmt.Errorf("header %s: %w", name, err)
		}
		c.headers[name] = v
	}
	return c, nil
}

func (r *Registration) params() RegistrationParams {
	return RegistrationParams{
		ID:          r.id,
		UserID:      r.userID,
		CallbackURI: r.callbackURI,
		Secret:      r.secret,
		Description: r.description,
		Filters:     slices.Clone(r.filters),
		Headers:     cloneHeaders(r.headers),
		Properties:  cloneProperties(r.properties),
		IsPaused:    r.isPaused,
		Version:     r.version,
	}
}

func cloneHeaders(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return maps.Clone(h)
}

func cloneProperties(p map[string]any) map[string]any {
	if p == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = deepCopy(v)
	}
	return out
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneProperties(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}
