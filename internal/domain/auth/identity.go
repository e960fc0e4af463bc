package auth

import "context"

// Identity is the authenticated caller. The checkout core trusts it as given.
type Identity struct {
	ID   string
	Name string
	Role Role
}

// Can reports whether the identity holds one of roles.
func (i Identity) Can(roles ...Role) bool {
	for _, r := range roles {
		if i.Role == r {
			return true
		}
	}
	return false
}

type identityKey struct{}

// WithIdentity stores id in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// FromContext returns the identity stored by WithIdentity.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
