package acl_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-syncstore/acl"
	"github.com/asaidimu/go-syncstore/backend/sqlite"
	"github.com/asaidimu/go-syncstore/model"
)

func TestGrantCheckRevoke(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	m := acl.New(b)
	require.NoError(t, m.Grant(ctx, "note", "n1", "u2", model.ActionRead, model.ActionWrite))

	ok, err := m.Check(ctx, "u2", "note", "n1", model.ActionWrite)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.Check(ctx, "u2", "note", "n1", model.ActionDelete)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, m.Revoke(ctx, "note", "n1", "u2"))
	ok, err = m.Check(ctx, "u2", "note", "n1", model.ActionRead)
	require.NoError(t, err)
	require.False(t, ok)
}
