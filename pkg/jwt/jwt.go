// Package jwt issues and verifies the HS256 bearer tokens of the control API.
// The subject is the user whose registrations the token may manage.
package jwt

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrEmptyUserID      = errors.New("user_id cannot be empty")
	ErrInvalidTokenType = errors.New("invalid token type")
)

// TokenType distinguishes access tokens from anything else signed with the
// same key.
type TokenType string

const TokenTypeAccess TokenType = "access"

// Values of the role claim.
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Claims are the registered claims plus role and token type.
type Claims struct {
	Role      string    `json:"role,omitempty"`
	TokenType TokenType `json:"token_type,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() string { return c.Subject }

// IsAdmin reports whether the token may broadcast to every user.
func (c *Claims) IsAdmin() bool { return c.Role == RoleAdmin }

// TokenConfig is the shared secret, expected issuer and default lifetime.
type TokenConfig struct {
	Secret              string
	Issuer              string
	AccessTokenDuration time.Duration
}

// Generator signs and verifies access tokens.
type Generator struct {
	key    []byte
	issuer string
	ttl    time.Duration
	parser *jwt.Parser
}

func NewGenerator(cfg TokenConfig) *Generator {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	return &Generator{
		key:    []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTokenDuration,
		parser: jwt.NewParser(opts...),
	}
}

// GenerateAccessToken signs a token with the configured lifetime.
func (g *Generator) GenerateAccessToken(userID, role string) (string, time.Time, error) {
	return g.GenerateAccessTokenWithTTL(userID, role, g.ttl)
}

// GenerateAccessTokenWithTTL signs a token valid for ttl. A negative ttl
// yields an already expired token.
func (g *Generator) GenerateAccessTokenWithTTL(userID, role string, ttl time.Duration) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrEmptyUserID
	}

	now := time.Now()
	exp := now.Add(ttl)
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Role:      role,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    g.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}).SignedString(g.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// ValidateAccessToken verifies signature, algorithm, issuer and expiry.
// Only ErrExpiredToken is distinguished from ErrInvalidToken.
func (g *Generator) ValidateAccessToken(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := g.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return g.key, nil })
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpiredToken
	case err != nil:
		return nil, ErrInvalidToken
	case claims.TokenType != "" && claims.TokenType != TokenTypeAccess:
		return nil, ErrInvalidTokenType
	case claims.Subject == "":
		return nil, ErrEmptyUserID
	}
	return claims, nil
}
