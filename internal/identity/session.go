package identity

import (
	"context"
	"time"
)

// Session pairs a verified principal with the raw token it came from. It
// satisfies the dashboard's session contract.
type Session struct {
	Principal Principal
	Token     string

	now func() time.Time
}

// NewSession wraps a verified token.
func NewSession(p Principal, token string) *Session {
	return &Session{Principal: p, Token: token, now: time.Now}
}

// Authenticated reports whether the token is present and unexpired.
func (s *Session) Authenticated() bool {
	if s == nil || s.Token == "" {
		return false
	}
	return s.Principal.ExpiresAt.IsZero() || s.now().Before(s.Principal.ExpiresAt)
}

// Credential returns the bearer token.
func (s *Session) Credential() string {
	if s == nil {
		return ""
	}
	return s.Token
}

type ctxKey struct{}

// WithSession stores s in ctx.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored by WithSession.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}
