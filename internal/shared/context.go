package shared

import (
	"context"

	"github.com/google/uuid"
)

// Role enumerates caller roles supplied by the identity provider.
type Role string

const (
	// RoleAdmin has global scope across all franchises.
	RoleAdmin Role = "admin"
	// RoleManager is scoped to an explicit franchise set.
	RoleManager Role = "manager"
	// RoleStaff is scoped to an explicit franchise set, read-mostly.
	RoleStaff Role = "staff"
)

// Valid reports whether the role is a known value.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff:
		return true
	}
	return false
}

// Identity describes the authenticated caller as resolved by the external
// identity provider. The core trusts it only after scope resolution.
type Identity struct {
	UserID     int64
	Role       Role
	Franchises []uuid.UUID
}

type identityContextKey struct{}

// ContextWithIdentity stores the caller identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the caller identity from context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}
