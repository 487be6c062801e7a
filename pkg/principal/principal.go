// Package principal carries the resolved identity of a request. It sits
// below both the credential middleware that produces principals and the HTTP
// handlers that consume them, so neither has to import the other.
package principal

import (
	"context"
	"errors"
)

// Principal is any entity making a request: a user, a worker poller, or a
// peer service. Every principal is bound to exactly one tenant.
type Principal interface {
	GetID() string
	GetTenantID() string
	GetRoles() []string
}

// Base is the standard Principal implementation.
type Base struct {
	ID       string
	TenantID string
	Roles    []string
}

func (b *Base) GetID() string       { return b.ID }
func (b *Base) GetTenantID() string { return b.TenantID }
func (b *Base) GetRoles() []string  { return b.Roles }

// HasRole reports whether the principal carries the named role.
func (b *Base) HasRole(role string) bool {
	for _, r := range b.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type contextKey struct{}

// WithPrincipal attaches p to the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext retrieves the Principal resolved for this request.
func FromContext(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok {
		return nil, errors.New("no principal in context")
	}
	return p, nil
}

// TenantID returns the tenant of the context's Principal.
func TenantID(ctx context.Context) (string, error) {
	p, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return p.GetTenantID(), nil
}

// MustTenantID panics when no principal was resolved. Handlers behind the
// credential middleware may rely on it; nothing else should.
func MustTenantID(ctx context.Context) string {
	tid, err := TenantID(ctx)
	if err != nil {
		panic(err)
	}
	return tid
}
