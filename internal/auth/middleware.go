package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type ctxKey string

const ctxKeyIdentity ctxKey = "ratewall.identity"

// FromContext returns the Identity stored by Middleware, or false when the
// request was not authenticated.
func FromContext(ctx context.Context) (Identity, bool) {
	v := ctx.Value(ctxKeyIdentity)
	if v == nil {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// WithIdentity injects an identity into ctx. Test helper for exercising
// handlers without minting tokens.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// Middleware enforces bearer-token auth: it extracts the Authorization
// header, validates the access token, and stores the caller identity in
// the request context. Missing or invalid tokens get a 401.
func Middleware(m *Manager) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
				unauthorized(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(authz[7:])
			id, err := m.VerifyAccess(raw)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error": msg,
		"code":  "RATING_AUTH_REQUIRED",
	})
}
