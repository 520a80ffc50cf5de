// Package memory provides an in-process registration store. It is the default
// backend and the reference behavior for the durable stores.
package memory

import (
	"context"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

// RegistrationStore keeps registrations in memory.
type RegistrationStore struct {
	mu      sync.RWMutex
	users   map[string]map[string]*webhook.Registration
	version uint64
}

var _ webhook.Store = (*RegistrationStore)(nil)

// NewRegistrationStore creates an empty store.
func NewRegistrationStore() *RegistrationStore {
	return &RegistrationStore{users: make(map[string]map[string]*webhook.Registration)}
}

func (s *RegistrationStore) Get(ctx context.Context, userID, id string) (*webhook.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.users[userID][id]
	if !ok {
		return nil, webhook.ErrRegistrationNotFound
	}
	return r.Clone(), nil
}

func (s *RegistrationStore) GetAll(ctx context.Context, userID string) ([]*webhook.Registration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	regs := s.users[userID]
	out := make([]*webhook.Registration, 0, len(regs))
	for _, r := range regs {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (s *RegistrationStore) Insert(ctx context.Context, r *webhook.Registration) error {
	return s.InsertWithin(ctx, r, 0)
}

func (s *RegistrationStore) InsertWithin(ctx context.Context, r *webhook.Registration, maxPerUser int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	regs, ok := s.users[r.UserID()]
	if !ok {
		regs = make(map[string]*webhook.Registration)
		s.users[r.UserID()] = regs
	}
	if _, exists := regs[r.ID()]; exists {
		return webhook.ErrRegistrationExists
	}
	if maxPerUser > 0 && len(regs) >= maxPerUser {
		return webhook.ErrRegistrationQuota
	}

	now := time.Now().UTC()
	r.SetVersion(s.nextVersion())
	r.SetTimestamps(now, now)
	regs[r.ID()] = r.Clone()
	return nil
}

func (s *RegistrationStore) Update(ctx context.Context, r *webhook.Registration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.users[r.UserID()][r.ID()]
	if !ok {
		return webhook.ErrRegistrationNotFound
	}
	if current.Version() != r.Version() {
		return webhook.ErrVersionMismatch
	}

	r.SetVersion(s.nextVersion())
	r.SetTimestamps(current.CreatedAt(), time.Now().UTC())
	s.users[r.UserID()][r.ID()] = r.Clone()
	return nil
}

func (s *RegistrationStore) Delete(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	regs := s.users[userID]
	if _, ok := regs[id]; !ok {
		return webhook.ErrRegistrationNotFound
	}
	delete(regs, id)
	if len(regs) == 0 {
		delete(s.users, userID)
	}
	return nil
}

func (s *RegistrationStore) DeleteAll(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
	return nil
}

func (s *RegistrationStore) ListUsers(ctx context.Context, cursor string, limit int) ([]string, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	s.mu.RLock()
	users := make([]string, 0, len(s.users))
	for u := range s.users {
		if u > cursor {
			users = append(users, u)
		}
	}
	s.mu.RUnlock()

	slices.Sort(users)
	if limit <= 0 || len(users) <= limit {
		return users, "", nil
	}
	page := users[:limit]
	return page, page[len(page)-1], nil
}

func (s *RegistrationStore) nextVersion() string {
	s.version++
	return strconv.FormatUint(s.version, 10)
}
