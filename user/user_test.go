package user_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-syncstore/backend/sqlite"
	"github.com/asaidimu/go-syncstore/clock"
	"github.com/asaidimu/go-syncstore/idgen"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/user"
)

func newManager(t *testing.T) *user.Manager {
	t.Helper()
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	reg := registry.New()
	m, err := user.New(ctx, b, reg, clock.NewFixed(1000), &idgen.Sequential{Prefix: "u"})
	require.NoError(t, err)
	return m
}

func TestCreateAndGetRole(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	require.NoError(t, m.Create(ctx, model.User{ID: "admin-1", Name: "Root", Role: model.RoleAdmin}))

	role, found, err := m.GetRole(ctx, "admin-1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.RoleAdmin, role)
}

func TestGetRoleNotFound(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	_, found, err := m.GetRole(ctx, "ghost")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMustExist(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	require.Error(t, m.MustExist(ctx, "ghost"))

	require.NoError(t, m.Create(ctx, model.User{ID: "alice", Name: "Alice", Role: model.RoleMember}))
	require.NoError(t, m.MustExist(ctx, "alice"))
}

func TestGetRoleCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	require.NoError(t, m.Create(ctx, model.User{ID: "alice", Name: "Alice", Role: model.RoleMember}))

	role, found, err := m.GetRole(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.RoleMember, role)

	m.InvalidateRole("alice")

	role, found, err = m.GetRole(ctx, "alice")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, model.RoleMember, role)
}
