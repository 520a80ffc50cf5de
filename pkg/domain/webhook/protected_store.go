package webhook

import (
	"context"
	"fmt"

	"github.com/openctemio/webhooks/pkg/crypto"
	"github.com/openctemio/webhooks/pkg/domain/shared"
)

// ProtectedStore encrypts secrets and sensitive headers before they reach the
// wrapped Store and decrypts them on the way out.
type ProtectedStore struct {
	inner     Store
	protector crypto.Protector
}

var _ Store = (*ProtectedStore)(nil)

// NewProtectedStore wraps inner. A nil protector returns inner unchanged.
func NewProtectedStore(inner Store, protector crypto.Protector) Store {
	if protector == nil {
		return inner
	}
	return &ProtectedStore{inner: inner, protector: protector}
}

func (s *ProtectedStore) Get(ctx context.Context, userID, id string) (*Registration, error) {
	r, err := s.inner.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.open(r)
}

func (s *ProtectedStore) GetAll(ctx context.Context, userID string) ([]*Registration, error) {
	regs, err := s.inner.GetAll(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]*Registration, 0, len(regs))
	for _, r := range regs {
		opened, err := s.open(r)
		if err != nil {
			return nil, err
		}
		out = append(out, opened)
	}
	return out, nil
}

func (s *ProtectedStore) Insert(ctx context.Context, r *Registration) error {
	return s.InsertWithin(ctx, r, 0)
}

func (s *ProtectedStore) InsertWithin(ctx context.Context, r *Registration, maxPerUser int) error {
	sealed, err := s.seal(r)
	if err != nil {
		return err
	}
	if err := s.inner.InsertWithin(ctx, sealed, maxPerUser); err != nil {
		return err
	}
	r.SetVersion(sealed.Version())
	r.SetTimestamps(sealed.CreatedAt(), sealed.UpdatedAt())
	return nil
}

func (s *ProtectedStore) Update(ctx context.Context, r *Registration) error {
	sealed, err := s.seal(r)
	if err != nil {
		return err
	}
	if err := s.inner.Update(ctx, sealed); err != nil {
		return err
	}
	r.SetVersion(sealed.Version())
	r.SetTimestamps(sealed.CreatedAt(), sealed.UpdatedAt())
	return nil
}

func (s *ProtectedStore) Delete(ctx context.Context, userID, id string) error {
	return s.inner.Delete(ctx, userID, id)
}

func (s *ProtectedStore) DeleteAll(ctx context.Context, userID string) error {
	return s.inner.DeleteAll(ctx, userID)
}

func (s *ProtectedStore) ListUsers(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	return s.inner.ListUsers(ctx, cursor, limit)
}

func (s *ProtectedStore) seal(r *Registration) (*Registration, error) {
	sealed, err := r.WithSecrets(func(v string) (string, error) {
		return crypto.ProtectString(s.protector, v)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt %s: %v", shared.ErrStorage, r, err)
	}
	return sealed, nil
}

func (s *ProtectedStore) open(r *Registration) (*Registration, error) {
	opened, err := r.WithSecrets(func(v string) (string, error) {
		return crypto.UnprotectString(s.protector, v)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt %s: %v", shared.ErrStorage, r, err)
	}
	return opened, nil
}
