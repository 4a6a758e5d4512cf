// Package identity issues and verifies reviewer bearer tokens.
package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// DefaultIssuer is the iss claim of every token.
const DefaultIssuer = "triagedesk"

var (
	// ErrInvalidToken covers malformed, unsigned and mis-signed tokens.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpiredToken is returned for a well-formed token past its exp.
	ErrExpiredToken = errors.New("token expired")
)

type claims struct {
	jwt.RegisteredClaims
	Role Role   `json:"role"`
	Name string `json:"name,omitempty"`
}

// Principal is a verified reviewer.
type Principal struct {
	Subject   string    `json:"subject"`
	Name      string    `json:"name,omitempty"`
	Role      Role      `json:"role"`
	TokenID   string    `json:"token_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Issuer mints HS256 tokens.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer returns an Issuer. secret must be at least 32 bytes.
func NewIssuer(secret []byte, ttl time.Duration) (*Issuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("token secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	return &Issuer{secret: secret, issuer: DefaultIssuer, ttl: ttl, now: time.Now}, nil
}

// Issue signs a token for subject with role.
func (i *Issuer) Issue(subject, name string, role Role) (string, Principal, error) {
	if strings.TrimSpace(subject) == "" {
		return "", Principal{}, errors.New("subject is required")
	}
	if _, err := ParseRole(string(role)); err != nil {
		return "", Principal{}, err
	}

	now := i.now().UTC()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			ID:        ulid.Make().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Role: role,
		Name: name,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.secret)
	if err != nil {
		return "", Principal{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, c.principal(), nil
}

func (c *claims) principal() Principal {
	p := Principal{Subject: c.Subject, Name: c.Name, Role: c.Role, TokenID: c.ID}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time.UTC()
	}
	return p
}

// Verifier checks tokens minted by an Issuer with the same secret.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier returns a Verifier for secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret, issuer: DefaultIssuer, now: time.Now}
}

// Verify parses token and returns its principal.
func (v *Verifier) Verify(token string) (Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Principal{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	var c claims
	_, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Principal{}, ErrExpiredToken
	case err != nil:
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if _, err := ParseRole(string(c.Role)); err != nil {
		return Principal{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return Principal{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return c.principal(), nil
}
