package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Skotchmaster/marketplace/internal/authz"
	"github.com/Skotchmaster/marketplace/internal/events"
	"github.com/Skotchmaster/marketplace/internal/models"
)

func TestRegisterValidation(t *testing.T) {
	env := newEnv(t)

	_, err := env.identity.Register(env.ctx, "", "pw", models.RoleCustomer)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.identity.Register(env.ctx, "x", "", models.RoleCustomer)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = env.identity.Register(env.ctx, "x", "pw", models.Role("wizard"))
	assert.ErrorIs(t, err, ErrInvalidRole)

	u, err := env.identity.Register(env.ctx, "plain", "pw", "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleCustomer, u.Role)
	assert.False(t, u.Approved)
	assert.NotEqual(t, "pw", u.PasswordHash)

	_, err = env.identity.Register(env.ctx, "plain", "other", models.RoleMerchant)
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	root, err := env.identity.Register(env.ctx, "root2", "pw", models.RoleAdministrator)
	require.NoError(t, err)
	assert.True(t, root.Approved)

	assert.Contains(t, env.events.Types(events.TopicUsers), "user_registered")
}

func TestApprovalGate(t *testing.T) {
	env := newEnv(t)

	alice, err := env.identity.Register(env.ctx, "alice", "pw1", models.RoleCustomer)
	require.NoError(t, err)

	_, err = env.identity.Authenticate(env.ctx, "alice", "pw1", "")
	require.ErrorIs(t, err, ErrPendingApproval)

	for i := 0; i < 2; i++ {
		u, err := env.identity.SetApproved(env.ctx, env.admin, alice.ID, true)
		require.NoError(t, err)
		assert.True(t, u.Approved)
	}

	u, err := env.identity.Authenticate(env.ctx, "alice", "pw1", "")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, u.ID)
}

func TestAuthenticateFailures(t *testing.T) {
	env := newEnv(t)
	env.approved("bob", "pw", models.RoleMerchant)

	_, err := env.identity.Authenticate(env.ctx, "nobody", "pw", "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.identity.Authenticate(env.ctx, "bob", "wrong", "")
	assert.ErrorIs(t, err, ErrBadCredential)

	_, err = env.identity.Authenticate(env.ctx, "bob", "pw", models.RoleAdministrator)
	assert.ErrorIs(t, err, ErrBadCredential)

	u, err := env.identity.Authenticate(env.ctx, "bob", "pw", models.RoleMerchant)
	require.NoError(t, err)
	assert.Equal(t, models.RoleMerchant, u.Role)
}

func TestSetApprovedRequiresAdmin(t *testing.T) {
	env := newEnv(t)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	carol, err := env.identity.Register(env.ctx, "carol", "pw", models.RoleCustomer)
	require.NoError(t, err)

	_, err = env.identity.SetApproved(env.ctx, bob, carol.ID, true)
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = env.identity.SetApproved(env.ctx, authz.Actor{}, carol.ID, true)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	_, err = env.identity.SetApproved(env.ctx, env.admin, 9999, true)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoginRefreshLogout(t *testing.T) {
	env := newEnv(t)
	env.approved("alice", "pw1", models.RoleCustomer)

	sess, err := env.identity.Login(env.ctx, "alice", "pw1", "")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Tokens.AccessToken)

	next, err := env.identity.Refresh(env.ctx, sess.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, sess.Tokens.RefreshToken, next.Tokens.RefreshToken)

	_, err = env.identity.Refresh(env.ctx, sess.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken, "rotated token must not be reusable")

	_, err = env.identity.Refresh(env.ctx, "garbage")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	actor := env.actorOf("alice")
	require.NoError(t, env.identity.Logout(env.ctx, actor, next.Tokens.RefreshToken))
	_, err = env.identity.Refresh(env.ctx, next.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	assert.ErrorIs(t, env.identity.Logout(env.ctx, authz.Actor{}, ""), ErrUnauthenticated)
}

func TestPendingUserMayLogOut(t *testing.T) {
	env := newEnv(t)
	_, err := env.identity.Register(env.ctx, "dave", "pw", models.RoleCustomer)
	require.NoError(t, err)

	assert.NoError(t, env.identity.Logout(env.ctx, env.actorOf("dave"), ""))
}

func TestBootstrapAdminIdempotent(t *testing.T) {
	env := newEnv(t)

	created, err := env.identity.BootstrapAdmin(env.ctx, "admin", "other")
	require.NoError(t, err)
	assert.False(t, created)

	admins, err := env.identity.ListUsers(env.ctx, env.admin, models.RoleAdministrator)
	require.NoError(t, err)
	assert.Len(t, admins, 1)

	_, err = env.identity.Authenticate(env.ctx, "admin", "root", models.RoleAdministrator)
	assert.NoError(t, err, "original password is kept")

	env.approved("mallory", "pw", models.RoleCustomer)
	_, err = env.identity.BootstrapAdmin(env.ctx, "mallory", "pw")
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = env.identity.BootstrapAdmin(env.ctx, "", "pw")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestListUsers(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	env.approved("bob", "pw", models.RoleMerchant)

	all, err := env.identity.ListUsers(env.ctx, env.admin, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	merchants, err := env.identity.ListUsers(env.ctx, env.admin, models.RoleMerchant)
	require.NoError(t, err)
	require.Len(t, merchants, 1)
	assert.Equal(t, "bob", merchants[0].Username)

	_, err = env.identity.ListUsers(env.ctx, env.admin, "wizard")
	assert.ErrorIs(t, err, ErrInvalidRole)

	_, err = env.identity.ListUsers(env.ctx, alice, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestDeleteUserCascades(t *testing.T) {
	env := newEnv(t)
	alice := env.approved("alice", "pw", models.RoleCustomer)
	bob := env.approved("bob", "pw", models.RoleMerchant)
	w := env.product(bob, "Widget", "10.00", 5)

	_, err := env.orders.PlaceOrder(env.ctx, alice, w.ID, 1)
	require.NoError(t, err)
	_, err = env.cart.AddItem(env.ctx, alice, w.ID, 1)
	require.NoError(t, err)

	require.ErrorIs(t, env.identity.DeleteUser(env.ctx, bob, alice.ID), ErrUnauthorized)
	require.ErrorIs(t, env.identity.DeleteUser(env.ctx, env.admin, env.admin.ID), ErrInvalidInput)

	require.NoError(t, env.identity.DeleteUser(env.ctx, env.admin, bob.ID))

	_, err = env.catalog.Get(env.ctx, w.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	orders, err := env.orders.ListOrders(env.ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, orders)
	view, err := env.cart.List(env.ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, view.Items)

	assert.ErrorIs(t, env.identity.DeleteUser(env.ctx, env.admin, bob.ID), ErrNotFound)
	assert.Contains(t, env.events.Types(events.TopicUsers), "user_deleted")
}
