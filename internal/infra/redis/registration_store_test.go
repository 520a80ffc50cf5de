package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

func newRegistration(userID, id string) *webhook.Registration {
	return webhook.NewRegistration(webhook.RegistrationParams{
		ID:          id,
		UserID:      userID,
		CallbackURI: "https://hooks.example.com/orders",
		Secret:      "0123456789abcdef0123456789abcdef",
		Filters:     []string{"order.created"},
		Headers:     map[string]string{"X-Tenant": "acme"},
		Properties:  map[string]any{"team": "billing"},
	})
}

func TestRegistrationStore_InsertGet(t *testing.T) {
	client, mr := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	r := newRegistration("u1", "r1")
	require.NoError(t, s.Insert(ctx, r))
	assert.Equal(t, "1", r.Version())

	got, err := s.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.Version())
	assert.Equal(t, r.CallbackURI(), got.CallbackURI())
	assert.Equal(t, r.Secret(), got.Secret())
	assert.Equal(t, []string{"order.created"}, got.Filters())
	assert.Equal(t, map[string]string{"X-Tenant": "acme"}, got.Headers())
	assert.Equal(t, map[string]any{"team": "billing"}, got.Properties())
	assert.True(t, r.CreatedAt().Equal(got.CreatedAt()))

	assert.True(t, mr.Exists("test:registrations:u1"))
	assert.Equal(t, "1", mr.HGet("test:versions:u1", "r1"))
}

func TestRegistrationStore_Get_NotFound(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewRegistrationStore(client)

	_, err := s.Get(context.Background(), "u1", "missing")
	assert.ErrorIs(t, err, webhook.ErrRegistrationNotFound)
}

func TestRegistrationStore_Insert_Duplicate(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newRegistration("u1", "r1")))
	assert.ErrorIs(t, s.Insert(ctx, newRegistration("u1", "r1")), webhook.ErrRegistrationExists)

	// Same id under another user is a different key.
	assert.NoError(t, s.Insert(ctx, newRegistration("u2", "r1")))
}

func TestRegistrationStore_InsertWithin_Concurrent(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	const limit = 3
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		quota   int
	)
	for i := range 12 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InsertWithin(ctx, newRegistration("u1", fmt.Sprintf("r%02d", i)), limit)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, webhook.ErrRegistrationQuota):
				quota++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, limit, created)
	assert.Equal(t, 12-limit, quota)
	regs, err := s.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, regs, limit)

	// The limit is per user and a taken id still reports a conflict.
	assert.NoError(t, s.InsertWithin(ctx, newRegistration("u2", "r00"), limit))
	assert.ErrorIs(t, s.InsertWithin(ctx, newRegistration("u1", regs[0].ID()), limit), webhook.ErrRegistrationExists)
}

func TestRegistrationStore_GetAll_Ordered(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, s.Insert(ctx, newRegistration("u1", id)))
		time.Sleep(time.Millisecond)
	}

	all, err := s.GetAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].ID())
	assert.Equal(t, "a", all[1].ID())
	assert.Equal(t, "b", all[2].ID())

	none, err := s.GetAll(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRegistrationStore_Update(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	r := newRegistration("u1", "r1")
	require.NoError(t, s.Insert(ctx, r))

	r.Pause()
	require.NoError(t, s.Update(ctx, r))
	assert.Equal(t, "2", r.Version())

	got, err := s.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.True(t, got.IsPaused())
	assert.Equal(t, "2", got.Version())
}

func TestRegistrationStore_Update_Conflicts(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T, s *RegistrationStore) *webhook.Registration
		wantErr error
	}{
		{
			name: "missing",
			setup: func(_ *testing.T, _ *RegistrationStore) *webhook.Registration {
				r := newRegistration("u1", "ghost")
				r.SetVersion("1")
				return r
			},
			wantErr: webhook.ErrRegistrationNotFound,
		},
		{
			name: "stale version",
			setup: func(t *testing.T, s *RegistrationStore) *webhook.Registration {
				ctx := context.Background()
				r := newRegistration("u1", "r1")
				require.NoError(t, s.Insert(ctx, r))
				stale := r.Clone()
				require.NoError(t, s.Update(ctx, r))
				return stale
			},
			wantErr: webhook.ErrVersionMismatch,
		},
		{
			name: "foreign token",
			setup: func(t *testing.T, s *RegistrationStore) *webhook.Registration {
				r := newRegistration("u1", "r2")
				require.NoError(t, s.Insert(context.Background(), r))
				r.SetVersion("not-a-version")
				return r
			},
			wantErr: webhook.ErrVersionMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t)
			s := NewRegistrationStore(client)
			r := tt.setup(t, s)
			assert.ErrorIs(t, s.Update(context.Background(), r), tt.wantErr)
		})
	}
}

func TestRegistrationStore_Delete(t *testing.T) {
	client, mr := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newRegistration("u1", "r1")))
	require.NoError(t, s.Insert(ctx, newRegistration("u1", "r2")))

	require.NoError(t, s.Delete(ctx, "u1", "r1"))
	assert.ErrorIs(t, s.Delete(ctx, "u1", "r1"), webhook.ErrRegistrationNotFound)

	users, _, err := s.ListUsers(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)

	require.NoError(t, s.Delete(ctx, "u1", "r2"))
	users, _, err = s.ListUsers(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, users)
	assert.False(t, mr.Exists("test:registrations:u1"))
}

func TestRegistrationStore_DeleteAll(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, newRegistration("u1", "r1")))
	require.NoError(t, s.Insert(ctx, newRegistration("u1", "r2")))
	require.NoError(t, s.Insert(ctx, newRegistration("u2", "r1")))

	require.NoError(t, s.DeleteAll(ctx, "u1"))

	all, err := s.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, all)

	users, _, err := s.ListUsers(ctx, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"u2"}, users)

	// Deleting a user with nothing registered is not an error.
	assert.NoError(t, s.DeleteAll(ctx, "nobody"))
}

func TestRegistrationStore_ListUsers_Paging(t *testing.T) {
	client, _ := newTestClient(t)
	s := NewRegistrationStore(client)
	ctx := context.Background()

	for i := range 5 {
		require.NoError(t, s.Insert(ctx, newRegistration(fmt.Sprintf("user-%d", i), "r1")))
	}

	var (
		seen   []string
		cursor string
		pages  int
	)
	for {
		users, next, err := s.ListUsers(ctx, cursor, 2)
		require.NoError(t, err)
		seen = append(seen, users...)
		pages++
		if next == "" {
			break
		}
		cursor = next
	}

	assert.Equal(t, []string{"user-0", "user-1", "user-2", "user-3", "user-4"}, seen)
	assert.Equal(t, 3, pages)
}

func TestRegistrationStore_Unavailable(t *testing.T) {
	client, mr := newTestClient(t)
	s := NewRegistrationStore(client)
	mr.Close()

	_, err := s.Get(context.Background(), "u1", "r1")
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)

	err = s.Insert(context.Background(), newRegistration("u1", "r1"))
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}
