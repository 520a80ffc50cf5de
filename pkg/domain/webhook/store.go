package webhook

import "context"

// Store persists registrations keyed by (userID, id).
//
// Implementations report an unreachable backend with shared.ErrStoreUnavailable
// and other persistence failures with shared.ErrStorage.
type Store interface {
	// Get returns ErrRegistrationNotFound when absent.
	Get(ctx context.Context, userID, id string) (*Registration, error)

	GetAll(ctx context.Context, userID string) ([]*Registration, error)

	// Insert returns ErrRegistrationExists when (userID, id) is taken.
	// On success r carries its first version token.
	Insert(ctx context.Context, r *Registration) error

	// InsertWithin is Insert that fails with ErrRegistrationQuota when the
	// user already owns maxPerUser registrations. The count and the write are
	// one atomic step. A non-positive maxPerUser means no limit.
	InsertWithin(ctx context.Context, r *Registration, maxPerUser int) error

	// Update replaces the stored record only when its version equals
	// r.Version(), otherwise ErrVersionMismatch. On success r carries a new
	// version token.
	Update(ctx context.Context, r *Registration) error

	Delete(ctx context.Context, userID, id string) error

	DeleteAll(ctx context.Context, userID string) error

	// ListUsers pages through users that own at least one registration.
	// An empty next cursor means the listing is complete.
	ListUsers(ctx context.Context, cursor string, limit int) (users []string, next string, err error)
}
