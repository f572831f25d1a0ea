package datamanager_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/asaidimu/go-syncstore/config"
	"github.com/asaidimu/go-syncstore/datamanager"
	"github.com/asaidimu/go-syncstore/syncerr"
)

const folderSchema = `{"type": "object", "properties": {"name": {"type": "string"}}, "required": ["name"]}`
const noteSchema = `{"type": "object", "properties": {"title": {"type": "string"}, "parent_id": {"type": "string", "x-parent-id": "folder"}}}`

func TestBuildRegistersInDependencyOrder(t *testing.T) {
	cfg := &config.Config{
		RootDir:        t.TempDir(),
		PoolSize:       1,
		PolicyMaxDepth: 64,
		Namespaces: []config.NamespaceConfig{
			{
				Name: ":memory:",
				Schemas: []config.CollectionConfig{
					{Collection: "folder", SchemaJSON: folderSchema},
					{Collection: "note", SchemaJSON: noteSchema},
				},
			},
		},
	}
	dm, err := datamanager.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer dm.Close()

	reg, err := dm.Registry(":memory:")
	require.NoError(t, err)
	_, ok := reg.Get("note")
	require.True(t, ok)

	b, err := dm.Backend(":memory:")
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestBuildFailsEagerlyOnForwardParentReference(t *testing.T) {
	cfg := &config.Config{
		RootDir:        t.TempDir(),
		PoolSize:       1,
		PolicyMaxDepth: 64,
		Namespaces: []config.NamespaceConfig{
			{
				Name: ":memory:",
				Schemas: []config.CollectionConfig{
					{Collection: "note", SchemaJSON: noteSchema},
					{Collection: "folder", SchemaJSON: folderSchema},
				},
			},
		},
	}
	_, err := datamanager.Build(context.Background(), cfg, nil)
	require.Error(t, err)
	require.True(t, syncerr.Of(err, syncerr.InvalidSchema))
}

func TestBackendUnknownNamespace(t *testing.T) {
	cfg := &config.Config{RootDir: t.TempDir(), PoolSize: 1, PolicyMaxDepth: 64}
	dm, err := datamanager.Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer dm.Close()

	_, err = dm.Backend("ghost")
	require.True(t, syncerr.Of(err, syncerr.UnknownNamespace))
}
