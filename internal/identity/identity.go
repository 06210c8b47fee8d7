// Package identity resolves who is acting: the account that signs ledger
// transactions on behalf of the logged-in user.
package identity

import (
	"context"
	"errors"

	"github.com/roach88/repairsync/internal/ledger"
)

// ErrUnauthenticated is returned when no caller can be resolved.
var ErrUnauthenticated = errors.New("authentication required")

// Principal is an authenticated caller.
type Principal struct {
	// Subject is the application user id.
	Subject string

	// Address is the ledger account the user signs with.
	Address ledger.Address

	// Roles are application roles, e.g. "tenant" or "landlord". They are
	// informational; the ledger enforces its own role checks.
	Roles []string

	// Source names how the principal was established ("jwt", "static").
	Source string
}

// Source resolves the caller for a request.
type Source interface {
	Caller(ctx context.Context) (Principal, error)
}

type principalKey struct{}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// FromContext returns the principal stored in ctx, if any.
func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ContextSource reads the principal placed on the context by WithPrincipal
// or Authenticator.Authenticate.
type ContextSource struct{}

// Caller implements Source.
func (ContextSource) Caller(ctx context.Context) (Principal, error) {
	p, ok := FromContext(ctx)
	if !ok || p.Address.IsZero() {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}

// Static always resolves to the same principal. Used by the CLI when an
// account is given on the command line.
type Static Principal

// Caller implements Source.
func (s Static) Caller(context.Context) (Principal, error) {
	if s.Address.IsZero() {
		return Principal{}, ErrUnauthenticated
	}
	p := Principal(s)
	if p.Source == "" {
		p.Source = "static"
	}
	return p, nil
}
