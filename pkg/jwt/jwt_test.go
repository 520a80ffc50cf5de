package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestGenerator() *Generator {
	return NewGenerator(TokenConfig{
		Secret:              testSecret,
		Issuer:              "webhooks",
		AccessTokenDuration: time.Minute,
	})
}

func TestGenerator_RoundTrip(t *testing.T) {
	g := newTestGenerator()

	token, expiresAt, err := g.GenerateAccessToken("user-1", RoleAdmin)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), expiresAt, 5*time.Second)

	claims, err := g.ValidateAccessToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.True(t, claims.IsAdmin())
	assert.Equal(t, TokenTypeAccess, claims.TokenType)
}

func TestGenerator_EmptyUser(t *testing.T) {
	_, _, err := newTestGenerator().GenerateAccessToken("", RoleUser)
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestGenerator_Rejects(t *testing.T) {
	g := newTestGenerator()

	expired, _, err := g.GenerateAccessTokenWithTTL("user-1", RoleUser, -time.Minute)
	require.NoError(t, err)

	otherKey, _, err := NewGenerator(TokenConfig{
		Secret: "ffffffffffffffffffffffffffffffff", Issuer: "webhooks", AccessTokenDuration: time.Minute,
	}).GenerateAccessToken("user-1", RoleUser)
	require.NoError(t, err)

	otherIssuer, _, err := NewGenerator(TokenConfig{
		Secret: testSecret, Issuer: "someone-else", AccessTokenDuration: time.Minute,
	}).GenerateAccessToken("user-1", RoleUser)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", Issuer: "webhooks"},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"expired", expired, ErrExpiredToken},
		{"wrong key", otherKey, ErrInvalidToken},
		{"wrong issuer", otherIssuer, ErrInvalidToken},
		{"alg none", unsigned, ErrInvalidToken},
		{"garbage", "not.a.token", ErrInvalidToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ValidateAccessToken(tt.token)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
