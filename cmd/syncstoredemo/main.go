// Command syncstoredemo wires together config, DataManager, and Store to
// demonstrate the end-to-end write/read/permission/summary flow described in
// spec §8's seed scenarios. Grounded on the teacher's main.go (sqlite3 open →
// interactor → Persistence → demo CRUD → Transact → summary print), adapted
// to SyncStore's config-driven DataManager + Store facade.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/asaidimu/go-syncstore/clock"
	"github.com/asaidimu/go-syncstore/config"
	"github.com/asaidimu/go-syncstore/datamanager"
	"github.com/asaidimu/go-syncstore/idgen"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/query"
	"github.com/asaidimu/go-syncstore/store"
	"github.com/asaidimu/go-syncstore/syncerr"
)

const (
	folderSchemaJSON = `{
		"type": "object",
		"properties": {
			"name": {"type": "string"},
			"parent_id": {"type": "string", "x-parent-id": "folder"}
		},
		"required": ["name"]
	}`

	noteSchemaJSON = `{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"body": {"type": "string"},
			"parent_id": {"type": "string", "x-parent-id": "folder"}
		},
		"required": ["title"]
	}`
)

func main() {
	configPath := flag.String("config", "", "path to a syncstore config file (optional; built-in defaults otherwise)")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(*configPath, logger); err != nil {
		logger.Error("demo run failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath string, logger *zap.Logger) error {
	ctx := context.Background()

	cfg, err := loadOrDefaultConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	dm, err := datamanager.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("building data manager: %w", err)
	}
	defer dm.Close()

	s := store.New(dm, clock.System{}, idgen.UUID{})
	const ns = "acme"

	if _, err := s.Insert(ctx, model.ReservedSystemSubject, ns, "user", model.Document{
		"id": "admin-1", "name": "Root Admin", "role": "admin",
	}); err != nil {
		return fmt.Errorf("seeding admin user: %w", err)
	}
	if _, err := s.Insert(ctx, model.ReservedSystemSubject, ns, "user", model.Document{
		"id": "alice", "name": "Alice", "role": "member",
	}); err != nil {
		return fmt.Errorf("seeding user alice: %w", err)
	}
	if _, err := s.Insert(ctx, model.ReservedSystemSubject, ns, "user", model.Document{
		"id": "bob", "name": "Bob", "role": "member",
	}); err != nil {
		return fmt.Errorf("seeding user bob: %w", err)
	}

	folder, err := s.Insert(ctx, "alice", ns, "folder", model.Document{"name": "Alice's Workspace"})
	if err != nil {
		return fmt.Errorf("creating folder: %w", err)
	}
	logger.Info("created folder", zap.String("id", folder.Meta.ID))

	if err := s.Grant(ctx, ns, "folder", folder.Meta.ID, "bob", model.ActionWrite, model.ActionRead); err != nil {
		return fmt.Errorf("granting bob access to folder: %w", err)
	}

	note, err := s.Insert(ctx, "bob", ns, "note", model.Document{
		"title": "shared note", "body": "hello from bob", "parent_id": folder.Meta.ID,
	})
	if err != nil {
		return fmt.Errorf("bob creating note under alice's folder: %w", err)
	}
	logger.Info("bob created note under alice's folder via inherited grant", zap.String("id", note.Meta.ID))

	if _, err := s.Update(ctx, "admin-1", ns, "note", note.Meta.ID, model.Document{
		"title": "shared note (reviewed)", "body": note.Doc["body"],
	}); err != nil {
		return fmt.Errorf("admin updating note: %w", err)
	}

	_, err = s.Get(ctx, "admin-1", ns, "note", "does-not-exist")
	if syncerr.Of(err, syncerr.NotFound) {
		logger.Info("confirmed NotFound for missing record")
	}

	notes, err := s.List(ctx, "alice", ns, "note", query.NewBuilder().WithParentID(folder.Meta.ID).Build())
	if err != nil {
		return fmt.Errorf("listing notes as alice: %w", err)
	}
	logger.Info("alice's visible notes under her folder", zap.Int("count", len(notes)))

	summary, err := s.Summary(ctx, "alice", ns)
	if err != nil {
		return fmt.Errorf("summarizing as alice: %w", err)
	}
	for collection, entry := range summary {
		logger.Info("collection change digest",
			zap.String("collection", collection),
			zap.Int64("version", entry.Version),
			zap.Int64("last_updated_at", entry.LastUpdatedAt),
		)
	}

	return nil
}

func loadOrDefaultConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return &config.Config{
		RootDir:        "./data",
		PoolSize:       4,
		PolicyMaxDepth: 64,
		Namespaces: []config.NamespaceConfig{
			{
				Name: "acme",
				Schemas: []config.CollectionConfig{
					{Collection: "folder", SchemaJSON: folderSchemaJSON},
					{Collection: "note", SchemaJSON: noteSchemaJSON},
				},
			},
		},
	}, nil
}
