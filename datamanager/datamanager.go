// Package datamanager implements DataManager (component C5): a namespace
// registry mapping namespace name to Backend, constructed by a
// config-driven builder that registers every namespace's collection
// schemas in the dependency order given, failing eagerly if an
// x-parent-id target is not yet registered, per spec §4.5 and §9's
// "Config-driven setup" design note.
package datamanager

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/backend/sqlite"
	"github.com/asaidimu/go-syncstore/config"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/syncerr"
)

// MemorySentinel is the distinguished namespace name served by an
// in-memory Backend instead of a file-backed one, per spec §3.
const MemorySentinel = ":memory:"

type namespaceEntry struct {
	backend  backend.Backend
	registry *registry.Cache
}

// DataManager holds the namespace → Backend mapping (plus each namespace's
// own validator cache, since the registry is scoped per Backend lifetime).
type DataManager struct {
	mu         sync.RWMutex
	namespaces map[string]*namespaceEntry
	maxDepth   int
}

// Backend returns the Backend bound to namespace, or UnknownNamespace.
func (dm *DataManager) Backend(namespace string) (backend.Backend, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	e, ok := dm.namespaces[namespace]
	if !ok {
		return nil, syncerr.New(syncerr.UnknownNamespace, fmt.Sprintf("namespace %q is not registered", namespace))
	}
	return e.backend, nil
}

// Registry returns the validator cache bound to namespace.
func (dm *DataManager) Registry(namespace string) (*registry.Cache, error) {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	e, ok := dm.namespaces[namespace]
	if !ok {
		return nil, syncerr.New(syncerr.UnknownNamespace, fmt.Sprintf("namespace %q is not registered", namespace))
	}
	return e.registry, nil
}

// Namespaces lists every registered namespace name.
func (dm *DataManager) Namespaces() []string {
	dm.mu.RLock()
	defer dm.mu.RUnlock()
	out := make([]string, 0, len(dm.namespaces))
	for n := range dm.namespaces {
		out = append(out, n)
	}
	return out
}

// PolicyMaxDepth returns the configured ancestor-walk cap for
// check_permission, per spec §6.
func (dm *DataManager) PolicyMaxDepth() int { return dm.maxDepth }

// Close releases every namespace's Backend.
func (dm *DataManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	var firstErr error
	for name, e := range dm.namespaces {
		if err := e.backend.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing namespace %q: %w", name, err)
		}
	}
	return firstErr
}

// Build constructs a fully populated DataManager from cfg: one Backend per
// namespace, with every namespace's collection schemas registered in the
// order listed, parents before children. Fails fast on any inconsistency
// (schema conflict, invalid schema, forward parent reference).
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*DataManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dm := &DataManager{
		namespaces: make(map[string]*namespaceEntry),
		maxDepth:   cfg.PolicyMaxDepth,
	}

	for _, ns := range cfg.Namespaces {
		b, err := openNamespaceBackend(ns.Name, cfg.RootDir, cfg.PoolSize, logger)
		if err != nil {
			return nil, fmt.Errorf("opening backend for namespace %q: %w", ns.Name, err)
		}

		reg := registry.New()
		known := make(map[string]bool)
		for _, sc := range ns.Schemas {
			entry, err := reg.Register(sc.Collection, []byte(sc.SchemaJSON), known)
			if err != nil {
				return nil, fmt.Errorf("registering collection %q in namespace %q: %w", sc.Collection, ns.Name, err)
			}
			if err := b.EnsureCollection(ctx, entry); err != nil {
				return nil, fmt.Errorf("ensuring collection %q in namespace %q: %w", sc.Collection, ns.Name, err)
			}
			known[sc.Collection] = true
		}

		dm.namespaces[ns.Name] = &namespaceEntry{backend: b, registry: reg}
	}

	return dm, nil
}

func openNamespaceBackend(name, rootDir string, poolSize int, logger *zap.Logger) (backend.Backend, error) {
	if name == MemorySentinel {
		return sqlite.OpenMemory(logger)
	}
	path := filepath.Join(rootDir, backend.SanitizeNamespace(name)+".db")
	return sqlite.Open(path, poolSize, logger)
}

// RegisterNamespace adds a namespace at runtime with no pre-declared
// schemas, for callers that register collections incrementally via Store
// rather than through the builder config.
func (dm *DataManager) RegisterNamespace(ctx context.Context, name, rootDir string, poolSize int, logger *zap.Logger) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if _, ok := dm.namespaces[name]; ok {
		return nil
	}
	b, err := openNamespaceBackend(name, rootDir, poolSize, logger)
	if err != nil {
		return fmt.Errorf("opening backend for namespace %q: %w", name, err)
	}
	dm.namespaces[name] = &namespaceEntry{backend: b, registry: registry.New()}
	return nil
}
