package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// AdminAuthMiddleware gates the /wayfinder administrative surface behind a
// single static bearer token (spec §6: an admin surface bound to a
// non-loopback address requires an auth token).
type AdminAuthMiddleware struct {
	logger zerolog.Logger
	token  string
}

// NewAdminAuthMiddleware creates the admin-surface auth middleware. An
// empty token disables the check (the router's boot-time validation
// refuses to start this way on a non-loopback bind).
func NewAdminAuthMiddleware(logger zerolog.Logger, token string) *AdminAuthMiddleware {
	return &AdminAuthMiddleware{logger: logger, token: token}
}

// Handler returns the middleware handler function.
func (am *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if am.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		presented := strings.TrimPrefix(authHeader, "Bearer ")
		if presented == authHeader && !strings.HasPrefix(authHeader, "Bearer ") {
			presented = ""
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(am.token)) != 1 {
			am.logger.Warn().Str("path", r.URL.Path).Msg("rejected unauthenticated admin request")
			http.Error(w, `{"error":{"type":"unauthorized","message":"admin token required"}}`, http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
