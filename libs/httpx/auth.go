package httpx

import (
	"net/http"
	"strings"

	"github.com/fomo-app/fomo/libs/auth"
)

const (
	HeaderUserID     = "X-User-Id"
	HeaderBusinessID = "X-Business-Id"
	HeaderRole       = "X-Role"
)

// RequireAuth verifies the bearer token and replaces any caller-supplied identity headers
// with the token's claims.
func RequireAuth(next http.Handler, verifier *auth.Verifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}
		if !verifier.Enabled() {
			http.Error(w, "authentication not configured", http.StatusServiceUnavailable)
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		claims, err := verifier.Verify(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if claims.BusinessID == "" {
			http.Error(w, "token is not bound to a business", http.StatusForbidden)
			return
		}

		r.Header.Del(HeaderUserID)
		r.Header.Del(HeaderBusinessID)
		r.Header.Del(HeaderRole)
		r.Header.Set(HeaderUserID, claims.Subject)
		r.Header.Set(HeaderBusinessID, claims.BusinessID)
		r.Header.Set(HeaderRole, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func RequireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(HeaderRole)]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Owner is the common stack for business-owner endpoints.
func Owner(next http.Handler, verifier *auth.Verifier) http.Handler {
	return RequireAuth(RequireRole(next, "owner", "admin", "staff"), verifier)
}
