package memory

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

func newReg(userID, id string) *webhook.Registration {
	return webhook.NewRegistration(webhook.RegistrationParams{
		ID:          id,
		UserID:      userID,
		CallbackURI: "https://example.com/hook",
		Filters:     []string{"*"},
	})
}

func TestRegistrationStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewRegistrationStore()

	r := newReg("u1", "r1")
	require.NoError(t, s.Insert(ctx, r))
	assert.NotEmpty(t, r.Version())

	got, err := s.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, r.Version(), got.Version())

	err = s.Insert(ctx, newReg("u1", "r1"))
	assert.ErrorIs(t, err, webhook.ErrRegistrationExists)
	assert.ErrorIs(t, err, shared.ErrConflict)

	require.NoError(t, s.Insert(ctx, newReg("u1", "r2")))
	all, err := s.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, s.Delete(ctx, "u1", "r1"))
	_, err = s.Get(ctx, "u1", "r1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, "u1", "r1"), shared.ErrNotFound)

	require.NoError(t, s.DeleteAll(ctx, "u1"))
	all, err = s.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRegistrationStore_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	s := NewRegistrationStore()

	r := newReg("u1", "r1")
	require.NoError(t, s.Insert(ctx, r))

	a, _ := s.Get(ctx, "u1", "r1")
	b, _ := s.Get(ctx, "u1", "r1")

	a.Pause()
	require.NoError(t, s.Update(ctx, a))
	assert.NotEqual(t, r.Version(), a.Version(), "update must yield a new version")

	b.Pause()
	assert.ErrorIs(t, s.Update(ctx, b), webhook.ErrVersionMismatch)

	fresh, _ := s.Get(ctx, "u1", "r1")
	fresh.Resume()
	assert.NoError(t, s.Update(ctx, fresh))
}

func TestRegistrationStore_UpdateMissing(t *testing.T) {
	s := NewRegistrationStore()
	assert.ErrorIs(t, s.Update(context.Background(), newReg("u1", "nope")), shared.ErrNotFound)
}

func TestRegistrationStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewRegistrationStore()
	r := newReg("u1", "r1")
	require.NoError(t, s.Insert(ctx, r))

	r.Pause()
	got, _ := s.Get(ctx, "u1", "r1")
	assert.False(t, got.IsPaused(), "mutating the caller's value must not reach the store")
}

func TestRegistrationStore_ListUsers(t *testing.T) {
	ctx := context.Background()
	s := NewRegistrationStore()
	for _, u := range []string{"c", "a", "e", "b", "d"} {
		require.NoError(t, s.Insert(ctx, newReg(u, "r")))
	}

	var seen []string
	cursor := ""
	for {
		users, next, err := s.ListUsers(ctx, cursor, 2)
		require.NoError(t, err)
		seen = append(seen, users...)
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, seen)
}

func TestRegistrationStore_ConcurrentUpdatesSerialize(t *testing.T) {
	ctx := context.Background()
	s := NewRegistrationStore()
	require.NoError(t, s.Insert(ctx, newReg("u1", "r1")))

	base, _ := s.Get(ctx, "u1", "r1")

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := base.Clone()
			c.Pause()
			if s.Update(ctx, c) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins, "only one writer with the same base version may win")
}

func TestRegistrationStore_InsertWithin(t *testing.T) {
	ctx := context.Background()
	s := NewRegistrationStore()

	var (
		wg       sync.WaitGroup
		rejected atomic.Int32
	)
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.InsertWithin(ctx, newReg("u1", fmt.Sprintf("r%d", i)), 2); err != nil {
				assert.ErrorIs(t, err, webhook.ErrRegistrationQuota)
				assert.ErrorIs(t, err, shared.ErrQuotaExceeded)
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	regs, err := s.GetAll(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, regs, 2)
	assert.Equal(t, int32(8), rejected.Load())

	assert.ErrorIs(t, s.InsertWithin(ctx, newReg("u1", regs[0].ID()), 2), webhook.ErrRegistrationExists)
	assert.NoError(t, s.InsertWithin(ctx, newReg("u1", "unlimited"), 0))
}
