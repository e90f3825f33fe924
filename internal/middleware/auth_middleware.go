package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/churchapp/notifications/internal/auth"
	"github.com/churchapp/notifications/pkg/response"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"

	// APIKeyHeader carries the service key on inbound send, publish and admin routes
	APIKeyHeader = "X-API-Key"
)

// AuthMiddleware creates JWT authentication middleware. Websocket clients that
// cannot set headers may pass the token as the access_token query parameter.
func AuthMiddleware(jwtManager *auth.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				response.Unauthorized(w, "missing authorization header")
				return
			}

			// Validate token
			claims, err := jwtManager.ValidateAccessToken(token)
			if err != nil {
				if errors.Is(err, auth.ErrExpiredToken) {
					response.Unauthorized(w, "token has expired")
					return
				}
				response.Unauthorized(w, "invalid token")
				return
			}

			setLoggedUser(r.Context(), claims.UserID)

			// Add user info to context
			ctx := context.WithValue(r.Context(), UserIDKey, claims.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// APIKeyMiddleware guards service and admin routes with a shared key
func APIKeyMiddleware(verifier *auth.APIKeyVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !verifier.Configured() {
				response.Forbidden(w, "api key authentication is not configured")
				return
			}

			key := r.Header.Get(APIKeyHeader)
			if key == "" {
				response.Unauthorized(w, "missing api key")
				return
			}
			if err := verifier.Verify(key); err != nil {
				response.Unauthorized(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if token := r.URL.Query().Get("access_token"); token != "" {
			return token, true
		}
		return "", false
	}

	// Check Bearer prefix
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(UserIDKey).(int64)
	return userID, ok
}
