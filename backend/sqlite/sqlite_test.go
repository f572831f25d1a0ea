package sqlite_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/backend/sqlite"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/query"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/syncerr"
)

func noteEntry(t *testing.T) *registry.Entry {
	t.Helper()
	cache := registry.New()
	schemaJSON := []byte(`{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"handle": {"type": "string", "x-unique": true}
		},
		"required": ["title"]
	}`)
	entry, err := cache.Register("note", schemaJSON, map[string]bool{})
	require.NoError(t, err)
	return entry
}

func TestBackendCRUD(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	entry := noteEntry(t)
	require.NoError(t, b.EnsureCollection(ctx, entry))

	owner := "u1"
	meta := model.Meta{ID: "n1", Owner: &owner, CreatedAt: 100, UpdatedAt: 100}
	doc := model.Document{"title": "hello", "handle": "alice"}
	require.NoError(t, b.Insert(ctx, entry, meta, doc))

	got, err := b.Get(ctx, "note", "n1")
	require.NoError(t, err)
	require.Equal(t, "hello", got.Doc["title"])
	require.Equal(t, "u1", *got.Meta.Owner)

	exists, err := b.Exists(ctx, "note", "n1")
	require.NoError(t, err)
	require.True(t, exists)

	meta.UpdatedAt = 200
	doc["title"] = "updated"
	require.NoError(t, b.Update(ctx, entry, meta, doc))

	got, err = b.Get(ctx, "note", "n1")
	require.NoError(t, err)
	require.Equal(t, "updated", got.Doc["title"])
	require.Equal(t, int64(200), got.Meta.UpdatedAt)

	require.NoError(t, b.BumpChange(ctx, "note", 200))
	summary, err := b.Summary(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary["note"].Version)

	require.NoError(t, b.Delete(ctx, "note", "n1"))
	_, err = b.Get(ctx, "note", "n1")
	require.Error(t, err)
}

func TestBackendUniqueViolation(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	entry := noteEntry(t)
	require.NoError(t, b.EnsureCollection(ctx, entry))

	require.NoError(t, b.Insert(ctx, entry, model.Meta{ID: "n1", CreatedAt: 1, UpdatedAt: 1}, model.Document{"title": "a", "handle": "dup"}))
	err = b.Insert(ctx, entry, model.Meta{ID: "n2", CreatedAt: 2, UpdatedAt: 2}, model.Document{"title": "b", "handle": "dup"})
	require.Error(t, err)
}

func TestBackendListAndParent(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	entry := noteEntry(t)
	require.NoError(t, b.EnsureCollection(ctx, entry))

	parent := "f1"
	require.NoError(t, b.Insert(ctx, entry, model.Meta{ID: "n1", ParentID: &parent, CreatedAt: 1, UpdatedAt: 1}, model.Document{"title": "a"}))
	require.NoError(t, b.Insert(ctx, entry, model.Meta{ID: "n2", ParentID: &parent, CreatedAt: 2, UpdatedAt: 2}, model.Document{"title": "b"}))
	require.NoError(t, b.Insert(ctx, entry, model.Meta{ID: "n3", CreatedAt: 3, UpdatedAt: 3}, model.Document{"title": "c"}))

	children, err := b.ChildrenOf(ctx, "note", parent)
	require.NoError(t, err)
	require.Len(t, children, 2)

	results, err := b.List(ctx, "note", entry, query.NewBuilder().WithParentID(parent).Build())
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "n1", results[0].Meta.ID)
	require.Equal(t, "n2", results[1].Meta.ID)
}

func TestBackendListRejectsUnknownFilterField(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	entry := noteEntry(t)
	require.NoError(t, b.EnsureCollection(ctx, entry))
	require.NoError(t, b.Insert(ctx, entry, model.Meta{ID: "n1", CreatedAt: 1, UpdatedAt: 1}, model.Document{"title": "a"}))

	q := query.NewBuilder().Where("title", query.Eq, "a").Build()
	_, err = b.List(ctx, "note", entry, q)
	require.NoError(t, err, "a real schema property is a valid filter field")

	injected := query.NewBuilder().Where(`title") OR 1=1 --`, query.Eq, "x").Build()
	_, err = b.List(ctx, "note", entry, injected)
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.ValidationFailed))
}

func TestBackendAcl(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	grant := model.Grant{Collection: "note", RecordID: "n1", Subject: "u2", Perms: model.PermWrite}
	require.NoError(t, b.AclGrant(ctx, grant))

	ok, err := b.AclCheck(ctx, "u2", "note", "n1", model.ActionWrite)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = b.AclCheck(ctx, "u2", "note", "n1", model.ActionDelete)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, b.AclRevoke(ctx, "note", "n1", "u2"))
	ok, err = b.AclCheck(ctx, "u2", "note", "n1", model.ActionWrite)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBackendWithTxRollback(t *testing.T) {
	ctx := context.Background()
	b, err := sqlite.OpenMemory(nil)
	require.NoError(t, err)
	defer b.Close()

	entry := noteEntry(t)
	require.NoError(t, b.EnsureCollection(ctx, entry))

	boom := errors.New("boom")
	err = b.WithTx(ctx, func(tx backend.Backend) error {
		require.NoError(t, tx.Insert(ctx, entry, model.Meta{ID: "n9", CreatedAt: 1, UpdatedAt: 1}, model.Document{"title": "x"}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = b.Get(ctx, "note", "n9")
	require.Error(t, err, "insert inside a rolled-back transaction must not be visible")
}
