package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/nodequota/ratelimit/apierr"
)

type contextKey string

// callerContextKey stores the authenticated admin caller's raw header
// value in request context, in case a handler wants to log which
// credential was used.
const callerContextKey contextKey = "admin_caller"

// AdminAuth validates the admin API key on every request that reaches
// the CRUD and cluster-introspection routes. There is exactly one
// shared secret to check, set via config, so the comparison is local
// and constant-time.
type AdminAuth struct {
	headerName string
	expected   string
}

// NewAdminAuth builds the middleware. If expected is empty, every
// request is rejected; an operator must set RL_ADMIN_API_KEY before
// the admin surface becomes reachable.
func NewAdminAuth(headerName, expected string) *AdminAuth {
	if headerName == "" {
		headerName = "Authorization"
	}
	return &AdminAuth{headerName: headerName, expected: expected}
}

// Handler returns the middleware handler function.
func (a *AdminAuth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := r.Header.Get(a.headerName)
		key := raw
		if strings.HasPrefix(strings.ToLower(raw), "bearer ") {
			key = raw[len("bearer "):]
		}

		if a.expected == "" || key == "" || subtle.ConstantTimeCompare([]byte(key), []byte(a.expected)) != 1 {
			apierr.WriteError(w, apierr.New(apierr.CodeUnauthorized, "missing or invalid admin credential", nil))
			return
		}

		ctx := context.WithValue(r.Context(), callerContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
