// Package api implements the Laguz REST API using chi.
package api

import (
	"net/http"
	"strings"

	"github.com/starford/laguz/internal/session"
)

// AuthMiddleware returns middleware that validates a Bearer session
// token against the session store. A nil store disables auth entirely
// (single-user local mode).
func AuthMiddleware(sessions *session.RedisStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessions == nil {
				next.ServeHTTP(w, r)
				return
			}
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			token := strings.TrimPrefix(auth, "Bearer ")
			if _, err := sessions.Validate(r.Context(), token); err != nil {
				writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerToken extracts the raw token from the Authorization header.
func bearerToken(r *http.Request) string {
	return strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
}
