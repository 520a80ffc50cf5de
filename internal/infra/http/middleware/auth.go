package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openctemio/webhooks/pkg/apierror"
	"github.com/openctemio/webhooks/pkg/jwt"
	"github.com/openctemio/webhooks/pkg/logger"
)

// Auth-related context keys - use logger.ContextKey for consistency.
const (
	UserIDKey                   = logger.ContextKeyUserID
	RoleKey   logger.ContextKey = "role"
	ClaimsKey logger.ContextKey = "claims"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*jwt.Claims, error)
}

// =============================================================================
// Context Getters
// =============================================================================

// GetUserID extracts the user ID from context.
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(UserIDKey).(string); ok {
		return id
	}
	return ""
}

// GetRole extracts the role from context.
func GetRole(ctx context.Context) string {
	if role, ok := ctx.Value(RoleKey).(string); ok {
		return role
	}
	return ""
}

// GetClaims extracts the validated token claims from context.
func GetClaims(ctx context.Context) *jwt.Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*jwt.Claims); ok {
		return claims
	}
	return nil
}

// WithUser returns a context carrying the identity of an authenticated user.
func WithUser(ctx context.Context, userID, role string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, RoleKey, role)
}

// =============================================================================
// Bearer Authentication
// =============================================================================

// Auth validates the bearer token and stores the caller identity in context.
// Websocket clients that cannot set headers may pass the token as the
// access_token query parameter.
func Auth(validator TokenValidator, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				RecordAuthFailure("missing_token")
				apierror.Unauthorized("Missing bearer token").WriteJSON(w)
				return
			}

			claims, err := validator.ValidateAccessToken(token)
			if err != nil {
				reason := "invalid_token"
				message := "Invalid token"
				if errors.Is(err, jwt.ErrExpiredToken) {
					reason = "expired_token"
					message = "Token has expired"
				}
				RecordAuthFailure(reason)
				log.Debug("token rejected",
					"reason", reason,
					"request_id", GetRequestID(r.Context()),
				)
				apierror.Unauthorized(message).WriteJSON(w)
				return
			}

			ctx := WithUser(r.Context(), claims.UserID(), claims.Role)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if websocketUpgrade(r) {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// RequireRole checks that the caller has one of the roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role := GetRole(r.Context())
			if role == "" {
				apierror.Forbidden("No role assigned").WriteJSON(w)
				return
			}
			for _, required := range roles {
				if role == required {
					next.ServeHTTP(w, r)
					return
				}
			}
			apierror.Forbidden("Insufficient permissions").WriteJSON(w)
		})
	}
}

// RequireAdmin allows only administrators.
func RequireAdmin() func(http.Handler) http.Handler {
	return RequireRole(jwt.RoleAdmin)
}
