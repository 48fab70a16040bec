package authz

import (
	"context"
	"testing"

	"github.com/bookloan/apiserver/internal/apperr"
	"github.com/bookloan/apiserver/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGateRequire(t *testing.T) {
	admin := Identity{UserID: 1, Role: types.RoleAdmin}
	alice := Identity{UserID: 2, Role: types.RoleUser}
	bob := Identity{UserID: 3, Role: types.RoleUser}

	tests := []struct {
		name       string
		caller     Identity
		capability Capability
		owner      int
		wantKind   apperr.Kind
		wantOK     bool
	}{
		{"public anonymous", Anonymous, Public, 0, 0, true},
		{"admin anonymous", Anonymous, Admin, 0, apperr.KindUnauthorized, false},
		{"admin as admin", admin, Admin, 0, 0, true},
		{"admin as user", alice, Admin, 0, apperr.KindForbidden, false},
		{"self as owner", alice, Self, alice.UserID, 0, true},
		{"self as other user", bob, Self, alice.UserID, apperr.KindForbidden, false},
		{"self as admin", admin, Self, alice.UserID, apperr.KindForbidden, false},
		{"self-or-admin as admin", admin, SelfOrAdmin, alice.UserID, 0, true},
		{"self-or-admin as owner", alice, SelfOrAdmin, alice.UserID, 0, true},
		{"self-or-admin as other", bob, SelfOrAdmin, alice.UserID, apperr.KindForbidden, false},
	}

	var gate Gate
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := gate.Require(tc.caller, tc.capability, tc.owner)
			if tc.wantOK {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.wantKind, apperr.KindOf(err))
		})
	}
}

func TestRequireNotSelf(t *testing.T) {
	var gate Gate
	admin := Identity{UserID: 1, Role: types.RoleAdmin}

	err := gate.RequireNotSelf(admin, 1)
	assert.ErrorIs(t, err, apperr.ErrSelfTarget)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	assert.NoError(t, gate.RequireNotSelf(admin, 2))
}

func TestIdentityContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Anonymous, IdentityFrom(ctx))

	id := FromUser(types.User{ID: 7, Role: types.RoleAdmin})
	ctx = WithIdentity(ctx, id)
	assert.Equal(t, id, IdentityFrom(ctx))
	assert.True(t, IdentityFrom(ctx).IsAdmin())
}
