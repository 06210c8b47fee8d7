package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/repairsync/internal/ledger"
)

type claims struct {
	jwt.RegisteredClaims
	Address string   `json:"address"`
	Roles   []string `json:"roles,omitempty"`
}

// Authenticator verifies HS256 session tokens. Tokens carry the user id as
// subject and the signing account in an "address" claim.
type Authenticator struct {
	secret []byte
	now    func() time.Time
}

// NewAuthenticator creates an Authenticator for secret.
func NewAuthenticator(secret string) (*Authenticator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("jwt secret not configured")
	}
	return &Authenticator{secret: []byte(secret), now: time.Now}, nil
}

// Verify parses token and returns its principal.
func (a *Authenticator) Verify(token string) (Principal, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	)
	c := &claims{}
	parsed, err := parser.ParseWithClaims(token, c, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return Principal{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if c.Subject == "" {
		return Principal{}, fmt.Errorf("%w: subject claim required", ErrUnauthenticated)
	}
	addr, err := ledger.ParseAddress(c.Address)
	if err != nil || addr.IsZero() {
		return Principal{}, fmt.Errorf("%w: address claim: invalid account %q", ErrUnauthenticated, c.Address)
	}
	return Principal{Subject: c.Subject, Address: addr, Roles: c.Roles, Source: "jwt"}, nil
}

// Authenticate verifies token and returns ctx carrying the principal.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (context.Context, error) {
	p, err := a.Verify(token)
	if err != nil {
		return ctx, err
	}
	return WithPrincipal(ctx, p), nil
}

// Issue signs a token for p that expires after ttl.
func (a *Authenticator) Issue(p Principal, ttl time.Duration) (string, error) {
	now := a.now()
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Address: p.Address.String(),
		Roles:   p.Roles,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(a.secret)
}
