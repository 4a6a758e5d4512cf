// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"errors"
	"net/http"
	"strings"

	"github.com/linnemanlabs/triagedesk/internal/identity"
)

// Verifier validates a bearer token.
type Verifier interface {
	Verify(token string) (identity.Principal, error)
}

// BearerToken returns middleware that requires a valid bearer token in the
// Authorization header and stores the resulting session in the request
// context for identity.FromContext.
func BearerToken(v Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")

			if !strings.HasPrefix(auth, "Bearer ") {
				w.Header().Set("WWW-Authenticate", `Bearer realm="triagedesk"`)
				http.Error(w, `{"error":"missing or malformed authorization header"}`, http.StatusUnauthorized)
				return
			}

			token := auth[len("Bearer "):]
			p, err := v.Verify(token)
			if err != nil {
				msg := `{"error":"invalid token"}`
				if errors.Is(err, identity.ErrExpiredToken) {
					msg = `{"error":"token expired"}`
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="triagedesk", error="invalid_token"`)
				http.Error(w, msg, http.StatusUnauthorized)
				return
			}

			ctx := identity.WithSession(r.Context(), identity.NewSession(p, token))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
