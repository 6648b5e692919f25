package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/bugrelay/auth-service/internal/http/response"
	"github.com/bugrelay/auth-service/internal/security"
	"github.com/bugrelay/auth-service/internal/service"
)

type contextKey string

const claimsContextKey contextKey = "claims"

// AuthMiddleware authenticates the bearer token on every protected
// route: signature, kind and blacklist in one call. Validated claims go
// into the request context; downstream handlers trust them.
func AuthMiddleware(tokens *service.TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := tokens.ValidateAccess(r.Context(), raw)
			if err != nil {
				response.ServiceError(w, r, err)
				return
			}
			if claims.SessionID != "" {
				tokens.TouchSession(claims.SessionID)
			}
			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(claimsContextKey).(*security.Claims)
	return c, ok
}

// WithClaims exists for handler tests that bypass the middleware.
func WithClaims(ctx context.Context, claims *security.Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
