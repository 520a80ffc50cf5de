package webhook

import "time"

// Record is the serialized form of a Registration used by key-value stores
// and queued delivery payloads.
type Record struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	CallbackURI string            `json:"callback_uri"`
	Secret      string            `json:"secret,omitempty"`
	Description string            `json:"description,omitempty"`
	Filters     []string          `json:"filters"`
	Headers     map[string]string `json:"headers,omitempty"`
	Properties  map[string]any    `json:"properties,omitempty"`
	IsPaused    bool              `json:"is_paused"`
	Version     string            `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ToRecord converts r for serialization.
func (r *Registration) ToRecord() Record {
	p := r.params()
	return Record{
		ID:          p.ID,
		UserID:      p.UserID,
		CallbackURI: p.CallbackURI,
		Secret:      p.Secret,
		Description: p.Description,
		Filters:     p.Filters,
		Headers:     p.Headers,
		Properties:  p.Properties,
		IsPaused:    p.IsPaused,
		Version:     p.Version,
		CreatedAt:   r.createdAt,
		UpdatedAt:   r.updatedAt,
	}
}

// FromRecord rebuilds a Registration.
func FromRecord(rec Record) *Registration {
	return Reconstruct(RegistrationParams{
		ID:          rec.ID,
		UserID:      rec.UserID,
		CallbackURI: rec.CallbackURI,
		Secret:      rec.Secret,
		Description: rec.Description,
		Filters:     rec.Filters,
		Headers:     rec.Headers,
		Properties:  rec.Properties,
		IsPaused:    rec.IsPaused,
		Version:     rec.Version,
	}, rec.CreatedAt, rec.UpdatedAt)
}
