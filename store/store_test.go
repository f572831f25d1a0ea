package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-syncstore/clock"
	"github.com/asaidimu/go-syncstore/config"
	"github.com/asaidimu/go-syncstore/datamanager"
	"github.com/asaidimu/go-syncstore/idgen"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/store"
	"github.com/asaidimu/go-syncstore/syncerr"
)

const postSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"author": {"type": "string", "$ref": "user.id"}
	},
	"required": ["title", "author"]
}`

const profileSchema = `{
	"type": "object",
	"properties": {
		"handle": {"type": "string", "x-unique": true}
	},
	"required": ["handle"]
}`

const folderSchema = `{
	"type": "object",
	"properties": {
		"name": {"type": "string"},
		"parent_id": {"type": "string", "x-parent-id": "folder"}
	},
	"required": ["name"]
}`

const noteSchema = `{
	"type": "object",
	"properties": {
		"title": {"type": "string"},
		"parent_id": {"type": "string", "x-parent-id": "folder"}
	},
	"required": ["title"]
}`

func newTestStore(t *testing.T, schemas ...config.CollectionConfig) (*store.Store, *clock.Fixed) {
	t.Helper()
	cfg := &config.Config{
		RootDir:        t.TempDir(),
		PoolSize:       1,
		PolicyMaxDepth: 64,
		Namespaces: []config.NamespaceConfig{
			{Name: ":memory:", Schemas: schemas},
		},
	}
	dm, err := datamanager.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dm.Close() })

	fc := clock.NewFixed(1_000)
	s := store.New(dm, fc, idgen.UUID{})
	return s, fc
}

func createUser(t *testing.T, s *store.Store, id, role string) {
	t.Helper()
	_, err := s.Insert(context.Background(), model.ReservedSystemSubject, ":memory:", "user", model.Document{
		"id": id, "name": id, "role": role,
	})
	require.NoError(t, err)
}

func TestSeedRegisterAndInsert(t *testing.T) {
	s, _ := newTestStore(t, config.CollectionConfig{Collection: "post", SchemaJSON: postSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "member")

	rec, err := s.Insert(ctx, "u1", ":memory:", "post", model.Document{"id": "p1", "title": "hi", "author": "u1"})
	require.NoError(t, err)
	require.Equal(t, "p1", rec.Meta.ID)

	summary, err := s.Summary(ctx, "u1", ":memory:")
	require.NoError(t, err)
	require.Equal(t, int64(1), summary["post"].Version)
}

func TestSeedDanglingReference(t *testing.T) {
	s, _ := newTestStore(t, config.CollectionConfig{Collection: "post", SchemaJSON: postSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "member")

	_, err := s.Insert(ctx, "u1", ":memory:", "post", model.Document{"id": "p2", "title": "x", "author": "u404"})
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.DanglingReference))
}

func TestSeedUniqueViolation(t *testing.T) {
	s, _ := newTestStore(t, config.CollectionConfig{Collection: "profile", SchemaJSON: profileSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "member")

	_, err := s.Insert(ctx, "u1", ":memory:", "profile", model.Document{"id": "pr1", "handle": "alice"})
	require.NoError(t, err)

	_, err = s.Insert(ctx, "u1", ":memory:", "profile", model.Document{"id": "pr2", "handle": "alice"})
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.UniqueViolation))
}

func TestSeedParentAclInheritance(t *testing.T) {
	s, _ := newTestStore(t,
		config.CollectionConfig{Collection: "folder", SchemaJSON: folderSchema},
		config.CollectionConfig{Collection: "note", SchemaJSON: noteSchema},
	)
	ctx := context.Background()
	createUser(t, s, "u1", "member")
	createUser(t, s, "u2", "member")
	createUser(t, s, "u3", "member")

	_, err := s.Insert(ctx, "u1", ":memory:", "folder", model.Document{"id": "f1", "name": "root"})
	require.NoError(t, err)

	require.NoError(t, s.Grant(ctx, ":memory:", "folder", "f1", "u2", model.ActionWrite))

	rec, err := s.Insert(ctx, "u2", ":memory:", "note", model.Document{"id": "n1", "title": "hey", "parent_id": "f1"})
	require.NoError(t, err)
	require.Equal(t, "f1", *rec.Meta.ParentID)

	_, err = s.Update(ctx, "u3", ":memory:", "note", "n1", model.Document{"title": "changed", "parent_id": "f1"})
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.PermissionDenied))
}

func TestSeedParentCycle(t *testing.T) {
	s, _ := newTestStore(t, config.CollectionConfig{Collection: "folder", SchemaJSON: folderSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "member")

	_, err := s.Insert(ctx, "u1", ":memory:", "folder", model.Document{"id": "f1", "name": "root"})
	require.NoError(t, err)

	_, err = s.Update(ctx, "u1", ":memory:", "folder", "f1", model.Document{"name": "root", "parent_id": "f1"})
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.ParentCycle))
}

func TestSeedAdminBypass(t *testing.T) {
	s, _ := newTestStore(t, config.CollectionConfig{Collection: "folder", SchemaJSON: folderSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "member")
	createUser(t, s, "admin1", "admin")

	_, err := s.Insert(ctx, "u1", ":memory:", "folder", model.Document{"id": "f1", "name": "root"})
	require.NoError(t, err)

	_, err = s.Update(ctx, "admin1", ":memory:", "folder", "f1", model.Document{"name": "renamed"})
	require.NoError(t, err)

	got, err := s.Get(ctx, "admin1", ":memory:", "folder", "f1")
	require.NoError(t, err)
	require.Equal(t, "renamed", got.Doc["name"])
}

func TestUpdateInvalidatesCachedRole(t *testing.T) {
	s, _ := newTestStore(t, config.CollectionConfig{Collection: "folder", SchemaJSON: folderSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "member")
	createUser(t, s, "u2", "member")
	createUser(t, s, "admin1", "admin")

	_, err := s.Insert(ctx, "u2", ":memory:", "folder", model.Document{"id": "f1", "name": "root"})
	require.NoError(t, err)

	// u1 has no grant and isn't the owner: reading f1 must still be denied,
	// which also warms u1's role cache entry as "member".
	_, err = s.Get(ctx, "u1", ":memory:", "folder", "f1")
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.PermissionDenied))

	_, err = s.Update(ctx, "admin1", ":memory:", "user", "u1", model.Document{"name": "u1", "role": "admin"})
	require.NoError(t, err)

	// If the cached "member" role survived the promotion, this would still
	// be denied for up to the cache's TTL.
	_, err = s.Get(ctx, "u1", ":memory:", "folder", "f1")
	require.NoError(t, err)
}

func TestDeleteInvalidatesCachedRole(t *testing.T) {
	s, _ := newTestStore(t, config.CollectionConfig{Collection: "folder", SchemaJSON: folderSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "admin")

	_, err := s.Insert(ctx, "u1", ":memory:", "folder", model.Document{"id": "f1", "name": "root"})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "u1", ":memory:", "user", "u1"))

	// Deleting the user record removes it entirely, so any subsequent
	// operation under that subject fails at requireSubject — but Delete
	// must still drop the cache entry (per SPEC_FULL.md §4.3) so a future
	// re-creation of the same id never resurrects a stale cached role.
	_, err = s.Get(ctx, "u1", ":memory:", "folder", "f1")
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.NotFound))
}

func TestUpdateMonotonicTimestamps(t *testing.T) {
	s, fc := newTestStore(t, config.CollectionConfig{Collection: "folder", SchemaJSON: folderSchema})
	ctx := context.Background()
	createUser(t, s, "u1", "member")

	rec, err := s.Insert(ctx, "u1", ":memory:", "folder", model.Document{"id": "f1", "name": "root"})
	require.NoError(t, err)
	created := rec.Meta.CreatedAt

	fc.Advance(0)
	updated, err := s.Update(ctx, "u1", ":memory:", "folder", "f1", model.Document{"name": "root2"})
	require.NoError(t, err)
	require.Greater(t, updated.Meta.UpdatedAt, rec.Meta.UpdatedAt)
	require.Equal(t, created, updated.Meta.CreatedAt)
}
