// Package user implements UserManager (component C3): a thin wrapper over
// Backend for the reserved "user" collection, adding role lookups.
//
// Role lookups are memoized in a process-local github.com/dgraph-io/ristretto
// cache, invalidated on every write to the user collection, per spec §5's
// explicit allowance that "implementations may memoize within one request
// if they invalidate on grant/revoke" — widened here to a bounded
// process-wide cache with explicit invalidation.
package user

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/clock"
	"github.com/asaidimu/go-syncstore/idgen"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/query"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/syncerr"
)

// UserSchemaJSON is the built-in schema for the reserved "user" collection,
// registered (if absent) and its table ensured when a Manager is
// constructed by New.
var UserSchemaJSON = []byte(`{
	"type": "object",
	"properties": {
		"id": {"type": "string"},
		"name": {"type": "string"},
		"role": {"type": "string", "enum": ["admin", "member"]}
	},
	"required": ["id", "name", "role"]
}`)

// Manager wraps Backend for the reserved "user" collection.
type Manager struct {
	b         backend.Backend
	reg       *registry.Cache
	entry     *registry.Entry
	clock     clock.Clock
	ids       idgen.Generator
	roleCache *ristretto.Cache
}

// New registers the built-in user schema (idempotently) and constructs a
// Manager bound to b.
func New(ctx context.Context, b backend.Backend, reg *registry.Cache, c clock.Clock, ids idgen.Generator) (*Manager, error) {
	entry, ok := reg.Get(model.UserCollection)
	if !ok {
		var err error
		entry, err = reg.Register(model.UserCollection, UserSchemaJSON, map[string]bool{})
		if err != nil {
			return nil, fmt.Errorf("registering built-in user schema: %w", err)
		}
	}
	if err := b.EnsureCollection(ctx, entry); err != nil {
		return nil, fmt.Errorf("ensuring user collection: %w", err)
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("constructing role cache: %w", err)
	}

	return &Manager{b: b, reg: reg, entry: entry, clock: c, ids: ids, roleCache: cache}, nil
}

// Create inserts a new user record with a null owner, generating an id if
// u.ID is empty. Manager itself does not gate permissions — that is
// Store's job.
func (m *Manager) Create(ctx context.Context, u model.User) error {
	if u.ID == "" {
		u.ID = m.ids.NewID()
	}
	now := m.clock.Now()
	doc := userToDoc(u)

	issues, err := m.reg.Validate(model.UserCollection, doc)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		first := issues[0]
		return syncerr.Validation(first.Pointer, first.Reason)
	}

	meta := model.Meta{ID: u.ID, CreatedAt: now, UpdatedAt: now}
	if err := m.b.Insert(ctx, m.entry, meta, doc); err != nil {
		return err
	}
	m.roleCache.Del(u.ID)
	return nil
}

// GetRole returns the role for userID. found is false if no such user
// exists, corresponding to spec's "not_found" outcome.
func (m *Manager) GetRole(ctx context.Context, userID string) (role model.Role, found bool, err error) {
	if v, ok := m.roleCache.Get(userID); ok {
		return v.(model.Role), true, nil
	}

	rec, err := m.b.Get(ctx, model.UserCollection, userID)
	if err != nil {
		if syncerr.Of(err, syncerr.NotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	roleStr, _ := rec.Doc["role"].(string)
	role = model.Role(roleStr)
	m.roleCache.SetWithTTL(userID, role, 1, 5*time.Minute)
	return role, true, nil
}

// MustExist returns NotFound if userID does not exist in the user
// collection.
func (m *Manager) MustExist(ctx context.Context, userID string) error {
	ok, err := m.b.Exists(ctx, model.UserCollection, userID)
	if err != nil {
		return err
	}
	if !ok {
		return syncerr.New(syncerr.NotFound, fmt.Sprintf("user %q does not exist", userID))
	}
	return nil
}

// InvalidateRole drops userID's cached role, called whenever the user's
// role record changes.
func (m *Manager) InvalidateRole(userID string) {
	m.roleCache.Del(userID)
}

// List returns registered users ordered by updated_at, id, used by
// administrative tooling. It passes no limit, so at most the backend's
// default page of 100 users is returned.
func (m *Manager) List(ctx context.Context) ([]model.User, error) {
	recs, err := m.b.List(ctx, model.UserCollection, m.entry, query.NewBuilder().Build())
	if err != nil {
		return nil, err
	}
	out := make([]model.User, 0, len(recs))
	for _, r := range recs {
		out = append(out, docToUser(r))
	}
	return out, nil
}

func userToDoc(u model.User) model.Document {
	return model.Document{"id": u.ID, "name": u.Name, "role": string(u.Role)}
}

func docToUser(r model.Record) model.User {
	name, _ := r.Doc["name"].(string)
	role, _ := r.Doc["role"].(string)
	return model.User{ID: r.Meta.ID, Name: name, Role: model.Role(role)}
}
