package auth

import (
	"net/http"
	"strings"

	"github.com/kselivanov/keymarket/pkg/httpx"
)

// Middleware turns a bearer token into a Principal on the request context.
// Requests without a valid token are rejected with 401.
func Middleware(v *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				httpx.Message(w, http.StatusUnauthorized, "Unauthorized.")
				return
			}
			p, err := v.Verify(token)
			if err != nil {
				httpx.Message(w, http.StatusUnauthorized, "Unauthorized.")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// RequireAdmin gates a route on the admin role. Must sit inside Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := FromContext(r.Context())
		if !ok {
			httpx.Message(w, http.StatusUnauthorized, "Unauthorized.")
			return
		}
		if !p.IsAdmin() {
			httpx.Message(w, http.StatusForbidden, "Forbidden.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
