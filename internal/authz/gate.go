// Package authz centralizes the capability checks every mutating
// operation runs before touching state.
package authz

import (
	"context"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/types"
)

// Capability is the requirement an operation declares.
type Capability int

const (
	// Public operations need no identity.
	Public Capability = iota
	// Self operations require the caller to own the target resource.
	Self
	// SelfOrAdmin operations accept the owner or any admin.
	SelfOrAdmin
	// Admin operations require the admin role.
	Admin
)

func (c Capability) String() string {
	switch c {
	case Public:
		return "public"
	case Self:
		return "self"
	case SelfOrAdmin:
		return "self-or-admin"
	case Admin:
		return "admin"
	default:
		return "unknown"
	}
}

// Identity is the authenticated caller of a single request.
type Identity struct {
	UserID int
	Role   string
}

// Anonymous is the identity of an unauthenticated request.
var Anonymous = Identity{}

// Authenticated reports whether the identity refers to a user.
func (i Identity) Authenticated() bool {
	return i.UserID > 0
}

// IsAdmin reports whether the identity holds the admin role.
func (i Identity) IsAdmin() bool {
	return i.Authenticated() && i.Role == types.RoleAdmin
}

// FromUser builds the identity of a loaded user.
func FromUser(u types.User) Identity {
	return Identity{UserID: u.ID, Role: u.Role}
}

type ctxKey struct{}

// WithIdentity stores the caller identity in ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// IdentityFrom returns the caller identity stored in ctx, or Anonymous.
func IdentityFrom(ctx context.Context) Identity {
	if id, ok := ctx.Value(ctxKey{}).(Identity); ok {
		return id
	}
	return Anonymous
}

// Gate evaluates capabilities. The zero value is ready to use.
type Gate struct{}

// Require checks that caller satisfies capability for a resource owned
// by ownerID. ownerID is ignored for Public and Admin.
func (Gate) Require(caller Identity, capability Capability, ownerID int) error {
	if capability == Public {
		return nil
	}
	if !caller.Authenticated() {
		return apperr.ErrUnauthorized
	}

	switch capability {
	case Admin:
		if caller.IsAdmin() {
			return nil
		}
		return apperr.Forbidden("not enough permissions. admin access required")
	case Self:
		if caller.UserID == ownerID {
			return nil
		}
		return apperr.Forbidden("not authorized to act on another user's resources")
	case SelfOrAdmin:
		if caller.UserID == ownerID || caller.IsAdmin() {
			return nil
		}
		return apperr.Forbidden("not authorized to act on another user's resources")
	default:
		return apperr.Forbidden("unknown capability")
	}
}

// RequireNotSelf rejects operations an admin may not apply to their own
// account, independent of role.
func (Gate) RequireNotSelf(caller Identity, targetID int) error {
	if caller.UserID == targetID {
		return apperr.ErrSelfTarget
	}
	return nil
}
