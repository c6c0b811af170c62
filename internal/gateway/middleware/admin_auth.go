package middleware

import (
	"net/http"
	"strings"

	"fieldops/internal/auth"
	"fieldops/pkg/api"
)

// RequireAdminToken ensures the request carries the admin bearer token.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Missing authorization header", api.CodeUnauthorized)
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				writeError(w, http.StatusUnauthorized, "Invalid authorization header", api.CodeUnauthorized)
				return
			}

			if token == "" || !auth.TokenEqual(parts[1], token) {
				writeError(w, http.StatusUnauthorized, "Invalid authorization token", api.CodeUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
