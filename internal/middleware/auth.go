package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/schedulo/access-control/internal/models"
)

type contextKey string

const userContextKey contextKey = "user_context"

// AccessValidator verifies a bearer access token and returns its claims
type AccessValidator interface {
	ValidateAccess(token string) (*models.UserContext, error)
}

// Authenticator validates the Authorization bearer token and stores the
// resulting claims in the request context. The token payload is trusted
// as-is once the signature verifies; no datastore lookup happens here.
func Authenticator(validator AccessValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, "TokenExpired", "missing bearer token")
				return
			}

			uc, err := validator.ValidateAccess(token)
			if err != nil {
				writeAuthError(w, "TokenExpired", "invalid or expired access token")
				return
			}

			ctx := context.WithValue(r.Context(), userContextKey, uc)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserContext extracts the authenticated claims from the request context
func GetUserContext(ctx context.Context) (*models.UserContext, bool) {
	uc, ok := ctx.Value(userContextKey).(*models.UserContext)
	return uc, ok
}

// WithUserContext returns a context carrying the given claims. Used by tests
// and in-process callers that bypass the HTTP layer.
func WithUserContext(ctx context.Context, uc *models.UserContext) context.Context {
	return context.WithValue(ctx, userContextKey, uc)
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeAuthError(w http.ResponseWriter, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":  message,
		"reason": reason,
	})
}
