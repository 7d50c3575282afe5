// Package scope computes the set of franchises a caller may read or mutate.
// Every other component resolves a scope before touching any record and
// applies it as a hard filter.
package scope

import (
	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/shared"
)

// Scope is the resolved franchise visibility for one request. When All is
// set the caller is unrestricted and Franchises is empty.
type Scope struct {
	All        bool
	Franchises []uuid.UUID
}

// Allows reports whether the scope covers the given franchise.
func (s Scope) Allows(franchiseID uuid.UUID) bool {
	if s.All {
		return true
	}
	for _, id := range s.Franchises {
		if id == franchiseID {
			return true
		}
	}
	return false
}

// Resolver intersects caller identity with requested franchises.
type Resolver struct{}

// NewResolver constructs a Resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve returns the effective scope for the caller. A nil requested
// franchise means "everything the caller may see"; a concrete requested
// franchise narrows the scope to that single franchise or fails with
// access denied when the caller's set does not contain it.
func (r *Resolver) Resolve(id shared.Identity, requested *uuid.UUID) (Scope, error) {
	if !id.Role.Valid() {
		return Scope{}, &shared.AccessDeniedError{Reason: "unknown role"}
	}
	if id.Role == shared.RoleAdmin {
		if requested != nil {
			return Scope{Franchises: []uuid.UUID{*requested}}, nil
		}
		return Scope{All: true}, nil
	}
	if len(id.Franchises) == 0 {
		return Scope{}, &shared.AccessDeniedError{Reason: "no franchise assigned"}
	}
	if requested == nil {
		out := make([]uuid.UUID, len(id.Franchises))
		copy(out, id.Franchises)
		return Scope{Franchises: out}, nil
	}
	for _, fid := range id.Franchises {
		if fid == *requested {
			return Scope{Franchises: []uuid.UUID{*requested}}, nil
		}
	}
	return Scope{}, &shared.AccessDeniedError{FranchiseID: *requested, Reason: "franchise outside caller scope"}
}

// RequireWrite resolves scope for a mutation on a single franchise. It
// checks tenancy only; role gating beyond scope membership is the
// caller's concern.
func (r *Resolver) RequireWrite(id shared.Identity, franchiseID uuid.UUID) (Scope, error) {
	sc, err := r.Resolve(id, &franchiseID)
	if err != nil {
		return Scope{}, err
	}
	return sc, nil
}
