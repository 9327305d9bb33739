package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/kitabi/backend/auth"
	"github.com/kitabi/backend/models"
)

type contextKey string

const identityKey contextKey = "identity"

// Auth verifies the bearer token on every protected request and places the
// resulting identity in the request context. Verification is pure (no
// database lookup), so this runs on every request without I/O.
func Auth(tokens *auth.TokenService) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, `{"error":"missing authorization header"}`, http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, `{"error":"invalid authorization format"}`, http.StatusUnauthorized)
				return
			}
			ident, err := tokens.Verify(parts[1])
			if err != nil {
				// Expired, malformed, and bad-signature all collapse to the
				// same generic message.
				http.Error(w, `{"error":"invalid or expired token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), identityKey, ident)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFromContext(ctx context.Context) (*models.Identity, bool) {
	ident, ok := ctx.Value(identityKey).(*models.Identity)
	return ident, ok
}
