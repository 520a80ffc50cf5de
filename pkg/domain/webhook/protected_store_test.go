package webhook_test

import (
	"context"
	"crypto/rand"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/webhooks/internal/infra/memory"
	"github.com/openctemio/webhooks/pkg/crypto"
	"github.com/openctemio/webhooks/pkg/domain/shared"
	"github.com/openctemio/webhooks/pkg/domain/webhook"
)

func newProtector(t *testing.T) crypto.Protector {
	t.Helper()
	key := make([]byte, crypto.KeySize)
	_, err := rand.Read(key)
	require.NoError(t, err)
	c, err := crypto.NewPurposeCipher(key, "webhooks.registrations")
	require.NoError(t, err)
	return c
}

func TestProtectedStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRegistrationStore()
	store := webhook.NewProtectedStore(inner, newProtector(t))

	secret := "whsec_\x00\xffbinary-ish"
	r := webhook.NewRegistration(webhook.RegistrationParams{
		ID:          "r1",
		UserID:      "u1",
		CallbackURI: "https://example.com/hook",
		Secret:      secret,
		Filters:     []string{"*"},
		Headers:     map[string]string{"Authorization": "Bearer abc", "X-Env": "prod"},
	})
	require.NoError(t, store.Insert(ctx, r))
	assert.NotEmpty(t, r.Version())

	raw, err := inner.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.NotEqual(t, secret, raw.Secret(), "inner store must only hold ciphertext")
	assert.NotEqual(t, "Bearer abc", raw.Headers()["Authorization"])
	assert.Equal(t, "prod", raw.Headers()["X-Env"])

	got, err := store.Get(ctx, "u1", "r1")
	require.NoError(t, err)
	assert.Equal(t, secret, got.Secret())
	assert.Equal(t, "Bearer abc", got.Headers()["Authorization"])

	all, err := store.GetAll(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, secret, all[0].Secret())
}

func TestProtectedStore_InsertWithinPassesLimit(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRegistrationStore()
	store := webhook.NewProtectedStore(inner, newProtector(t))

	newReg := func(id string) *webhook.Registration {
		return webhook.NewRegistration(webhook.RegistrationParams{
			ID: id, UserID: "u1", CallbackURI: "https://example.com/hook", Secret: "s3cr3t", Filters: []string{"*"},
		})
	}
	first := newReg("r1")
	require.NoError(t, store.InsertWithin(ctx, first, 1))
	assert.NotEmpty(t, first.Version())
	assert.Equal(t, "s3cr3t", first.Secret())

	err := store.InsertWithin(ctx, newReg("r2"), 1)
	assert.ErrorIs(t, err, webhook.ErrRegistrationQuota)
	assert.ErrorIs(t, err, shared.ErrQuotaExceeded)
}

func TestProtectedStore_UpdateKeepsVersioning(t *testing.T) {
	ctx := context.Background()
	store := webhook.NewProtectedStore(memory.NewRegistrationStore(), newProtector(t))

	r := webhook.NewRegistration(webhook.RegistrationParams{ID: "r1", UserID: "u1", Secret: "s", Filters: []string{"*"}})
	require.NoError(t, store.Insert(ctx, r))
	stale := r.Version()

	r.Pause()
	require.NoError(t, store.Update(ctx, r))
	assert.NotEqual(t, stale, r.Version())

	r.SetVersion(stale)
	assert.ErrorIs(t, store.Update(ctx, r), shared.ErrConflict)
}

func TestProtectedStore_DecryptFailureIsStorageError(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewRegistrationStore()

	writer := webhook.NewProtectedStore(inner, newProtector(t))
	require.NoError(t, writer.Insert(ctx, webhook.NewRegistration(webhook.RegistrationParams{
		ID: "r1", UserID: "u1", Secret: "s", Filters: []string{"*"},
	})))

	reader := webhook.NewProtectedStore(inner, newProtector(t))
	_, err := reader.Get(ctx, "u1", "r1")
	assert.True(t, errors.Is(err, shared.ErrStorage), "got %v", err)
}

func TestNewProtectedStore_NilProtectorPassesThrough(t *testing.T) {
	inner := memory.NewRegistrationStore()
	assert.Same(t, webhook.Store(inner), webhook.NewProtectedStore(inner, nil))
}
