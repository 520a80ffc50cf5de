package shared

import (
	"fmt"

	"github.com/google/uuid"
)

// MaxIDLength bounds caller-supplied identifiers.
const MaxIDLength = 128

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidateID checks that a caller-supplied opaque identifier is safe to use
// as a storage key and in URL paths.
func ValidateID(id string) error {
	if id == "" {
		return NewValidationError("id", "is required")
	}
	if len(id) > MaxIDLength {
		return NewValidationError("id", fmt.Sprintf("must not exceed %d characters", MaxIDLength))
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return NewValidationError("id", fmt.Sprintf("contains invalid character %q", r))
		}
	}
	return nil
}
