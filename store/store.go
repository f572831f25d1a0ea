// Package store implements Store (component C6): the end-to-end
// orchestration facade — metadata stamping, the permission gate, parent
// traversal, reference validation, and change summaries — atop DataManager,
// UserManager, and AclManager.
package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-syncstore/acl"
	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/clock"
	"github.com/asaidimu/go-syncstore/datamanager"
	"github.com/asaidimu/go-syncstore/idgen"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/query"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/syncerr"
	"github.com/asaidimu/go-syncstore/user"
)

// Store is the programmatic interface exposed to external collaborators
// (spec §6): insert/update/delete/get/list/summary plus schema
// registration, all gated by check_permission.
type Store struct {
	dm    *datamanager.DataManager
	clock clock.Clock
	ids   idgen.Generator

	mu    sync.Mutex
	users map[string]*user.Manager
	acls  map[string]*acl.Manager
}

// New constructs a Store atop dm, using c for timestamps and ids for
// generated record ids.
func New(dm *datamanager.DataManager, c clock.Clock, ids idgen.Generator) *Store {
	return &Store{
		dm:    dm,
		clock: c,
		ids:   ids,
		users: make(map[string]*user.Manager),
		acls:  make(map[string]*acl.Manager),
	}
}

// RegisterCollection registers schemaJSON for collection within namespace,
// then ensures its physical table exists. Exposed so callers can grow a
// namespace's schema set at runtime, beyond the config-driven builder.
func (s *Store) RegisterCollection(ctx context.Context, namespace, collection string, schemaJSON []byte) (*registry.Entry, error) {
	b, err := s.dm.Backend(namespace)
	if err != nil {
		return nil, err
	}
	reg, err := s.dm.Registry(namespace)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool)
	for _, n := range reg.Names() {
		known[n] = true
	}
	entry, err := reg.Register(collection, schemaJSON, known)
	if err != nil {
		return nil, err
	}
	if err := b.EnsureCollection(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *Store) collaborators(ctx context.Context, namespace string) (backend.Backend, *registry.Cache, *user.Manager, *acl.Manager, error) {
	b, err := s.dm.Backend(namespace)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	reg, err := s.dm.Registry(namespace)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	um, ok := s.users[namespace]
	if !ok {
		um, err = user.New(ctx, b, reg, s.clock, s.ids)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("initializing user manager for namespace %q: %w", namespace, err)
		}
		s.users[namespace] = um
	}

	am, ok := s.acls[namespace]
	if !ok {
		am = acl.New(b)
		s.acls[namespace] = am
	}

	return b, reg, um, am, nil
}

// Insert validates doc against collection's schema, stamps Meta, gates on
// permission, and persists the record, per spec §4.6's insert workflow.
func (s *Store) Insert(ctx context.Context, subject, namespace, collection string, doc model.Document) (model.Record, error) {
	b, reg, um, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return model.Record{}, err
	}
	if err := s.requireSubject(ctx, um, subject); err != nil {
		return model.Record{}, err
	}

	entry, ok := reg.Get(collection)
	if !ok {
		return model.Record{}, syncerr.New(syncerr.UnknownCollection, fmt.Sprintf("collection %q is not registered", collection))
	}

	work := cloneDoc(doc)
	id, hadID := popID(work)
	if !hadID || id == "" {
		id = s.ids.NewID()
	}

	// The stored body omits id (it lives in Meta), but validation sees it so
	// schemas that require it, such as the built-in user schema, accept it.
	candidate := cloneDoc(work)
	candidate["id"] = id
	if issues, err := reg.Validate(collection, candidate); err != nil {
		return model.Record{}, err
	} else if len(issues) > 0 {
		return model.Record{}, syncerr.Validation(issues[0].Pointer, issues[0].Reason)
	}

	var parentID *string
	if entry.HasParent() {
		parentID, err = stringPropertyPointer(work, entry.ParentProperty)
		if err != nil {
			return model.Record{}, err
		}
	}

	// Permission gate for creation (spec §4.6 step 4): top-level records are
	// universally allowed to authenticated subjects; child records require
	// write on the parent, evaluated recursively via check_permission. A
	// missing parent is left for the transactional existence check below to
	// report as DanglingReference, rather than surfacing as a permission
	// failure here.
	if parentID != nil {
		parentExists, err := b.Exists(ctx, entry.ParentCollection, *parentID)
		if err != nil {
			return model.Record{}, err
		}
		if parentExists {
			if _, err := s.checkPermission(ctx, b, reg, um, am, subject, entry.ParentCollection, *parentID, model.ActionWrite); err != nil {
				return model.Record{}, err
			}
		}
	}

	var owner *string
	if subject != model.ReservedSystemSubject {
		ownerCopy := subject
		owner = &ownerCopy
	}

	now := s.clock.Now()
	meta := model.Meta{ID: id, Owner: owner, ParentID: parentID, CreatedAt: now, UpdatedAt: now}

	err = b.WithTx(ctx, func(tx backend.Backend) error {
		if err := validateReferences(ctx, tx, entry, work); err != nil {
			return err
		}
		if parentID != nil {
			exists, err := tx.Exists(ctx, entry.ParentCollection, *parentID)
			if err != nil {
				return err
			}
			if !exists {
				return syncerr.New(syncerr.DanglingReference, fmt.Sprintf("parent %q not found in %q", *parentID, entry.ParentCollection))
			}
			cyclic, err := detectCycle(ctx, tx, reg, entry.ParentCollection, *parentID, id, s.dm.PolicyMaxDepth())
			if err != nil {
				return err
			}
			if cyclic {
				return syncerr.New(syncerr.ParentCycle, fmt.Sprintf("assigning parent %q to %q would form a cycle", *parentID, id))
			}
		}
		if err := tx.Insert(ctx, entry, meta, work); err != nil {
			return err
		}
		return tx.BumpChange(ctx, collection, now)
	})
	if err != nil {
		return model.Record{}, err
	}

	return model.Record{Meta: meta, Doc: work}, nil
}

// Update overwrites an existing record's document. owner and parent_id are
// immutable: an attempt to change parent_id (explicit value differing from
// the stored one) fails with ImmutableField, or with ParentCycle when the
// new parent would form a cycle; absence of the x-parent-id
// property in doc retains the stored value rather than detaching it, per
// spec §9's resolved open question.
func (s *Store) Update(ctx context.Context, subject, namespace, collection, id string, doc model.Document) (model.Record, error) {
	b, reg, um, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return model.Record{}, err
	}
	if err := s.requireSubject(ctx, um, subject); err != nil {
		return model.Record{}, err
	}

	entry, ok := reg.Get(collection)
	if !ok {
		return model.Record{}, syncerr.New(syncerr.UnknownCollection, fmt.Sprintf("collection %q is not registered", collection))
	}

	prev, err := s.checkPermission(ctx, b, reg, um, am, subject, collection, id, model.ActionWrite)
	if err != nil {
		return model.Record{}, err
	}

	work := cloneDoc(doc)
	delete(work, "id")

	var newParentID *string
	if entry.HasParent() {
		if v, present := work[entry.ParentProperty]; present {
			if v == nil {
				newParentID = nil
			} else if sv, ok := v.(string); ok {
				newParentID = &sv
			} else {
				return model.Record{}, syncerr.Validation("/"+entry.ParentProperty, "must be a string")
			}
		} else {
			newParentID = prev.Meta.ParentID
			if prev.Meta.ParentID != nil {
				work[entry.ParentProperty] = *prev.Meta.ParentID
			}
		}
		if !sameStringPointer(newParentID, prev.Meta.ParentID) {
			// An attempted parent_id change that would itself form a cycle
			// (most commonly a direct self-reference) is reported as
			// ParentCycle rather than the generic immutability error, since
			// it is the more specific and actionable diagnosis.
			if newParentID != nil {
				cyclic, cycErr := detectCycle(ctx, b, reg, entry.ParentCollection, *newParentID, id, s.dm.PolicyMaxDepth())
				if cycErr == nil && cyclic {
					return model.Record{}, syncerr.New(syncerr.ParentCycle, fmt.Sprintf("assigning parent %q to %q would form a cycle", *newParentID, id))
				}
			}
			return model.Record{}, &syncerr.Error{Kind: syncerr.ImmutableField, Message: "parent_id cannot be changed on update", Pointer: "/" + entry.ParentProperty}
		}
	}

	candidate := cloneDoc(work)
	candidate["id"] = id
	if issues, err := reg.Validate(collection, candidate); err != nil {
		return model.Record{}, err
	} else if len(issues) > 0 {
		return model.Record{}, syncerr.Validation(issues[0].Pointer, issues[0].Reason)
	}

	now := s.clock.Now()
	updatedAt := now
	if updatedAt <= prev.Meta.UpdatedAt {
		updatedAt = prev.Meta.UpdatedAt + 1
	}
	meta := model.Meta{ID: id, Owner: prev.Meta.Owner, ParentID: prev.Meta.ParentID, CreatedAt: prev.Meta.CreatedAt, UpdatedAt: updatedAt}

	err = b.WithTx(ctx, func(tx backend.Backend) error {
		if err := validateReferences(ctx, tx, entry, work); err != nil {
			return err
		}
		if err := tx.Update(ctx, entry, meta, work); err != nil {
			return err
		}
		return tx.BumpChange(ctx, collection, updatedAt)
	})
	if err != nil {
		return model.Record{}, err
	}

	// A just-updated role must not be served from the stale cache entry,
	// per SPEC_FULL.md §4.3's "invalidated on every write to the user
	// collection (role change)".
	if collection == model.UserCollection {
		um.InvalidateRole(id)
	}

	return model.Record{Meta: meta, Doc: work}, nil
}

// Delete removes a record, requiring delete permission via check_permission.
func (s *Store) Delete(ctx context.Context, subject, namespace, collection, id string) error {
	b, reg, um, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return err
	}
	if err := s.requireSubject(ctx, um, subject); err != nil {
		return err
	}
	if _, err := s.checkPermission(ctx, b, reg, um, am, subject, collection, id, model.ActionDelete); err != nil {
		return err
	}

	now := s.clock.Now()
	if err := b.WithTx(ctx, func(tx backend.Backend) error {
		if err := tx.Delete(ctx, collection, id); err != nil {
			return err
		}
		return tx.BumpChange(ctx, collection, now)
	}); err != nil {
		return err
	}

	if collection == model.UserCollection {
		um.InvalidateRole(id)
	}
	return nil
}

// Get returns a single record, gated by read permission.
func (s *Store) Get(ctx context.Context, subject, namespace, collection, id string) (model.Record, error) {
	b, reg, um, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return model.Record{}, err
	}
	if err := s.requireSubject(ctx, um, subject); err != nil {
		return model.Record{}, err
	}
	return s.checkPermission(ctx, b, reg, um, am, subject, collection, id, model.ActionRead)
}

// List returns every record in collection matching q that subject may read,
// per spec §4.6 ("filter results by check_permission(...,read)").
func (s *Store) List(ctx context.Context, subject, namespace, collection string, q query.ListQuery) ([]model.Record, error) {
	b, reg, um, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if err := s.requireSubject(ctx, um, subject); err != nil {
		return nil, err
	}

	entry, ok := reg.Get(collection)
	if !ok {
		return nil, syncerr.New(syncerr.UnknownCollection, fmt.Sprintf("collection %q is not registered", collection))
	}

	recs, err := b.List(ctx, collection, entry, q)
	if err != nil {
		return nil, err
	}

	role, found, err := um.GetRole(ctx, subject)
	if err != nil {
		return nil, err
	}
	if found && role == model.RoleAdmin {
		return recs, nil
	}

	out := make([]model.Record, 0, len(recs))
	for _, r := range recs {
		allowed, err := s.isAllowed(ctx, b, reg, am, subject, collection, r, model.ActionRead)
		if err != nil {
			return nil, err
		}
		if allowed {
			out = append(out, r)
		}
	}
	return out, nil
}

// Summary returns the per-collection {version, last_updated_at} digest for
// every collection subject can read at least one record in. Admins see
// every collection with a change entry; other subjects are checked against
// a representative page of each collection's records.
func (s *Store) Summary(ctx context.Context, subject, namespace string) (map[string]model.ChangeEntry, error) {
	b, reg, um, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return nil, err
	}
	if err := s.requireSubject(ctx, um, subject); err != nil {
		return nil, err
	}

	full, err := b.Summary(ctx)
	if err != nil {
		return nil, err
	}

	role, found, err := um.GetRole(ctx, subject)
	if err != nil {
		return nil, err
	}
	if found && role == model.RoleAdmin {
		return full, nil
	}

	out := make(map[string]model.ChangeEntry)
	for collection, changeEntry := range full {
		schemaEntry, ok := reg.Get(collection)
		if !ok {
			continue
		}
		recs, err := b.List(ctx, collection, schemaEntry, query.NewBuilder().Limit(100).Build())
		if err != nil {
			return nil, err
		}
		for _, r := range recs {
			allowed, err := s.isAllowed(ctx, b, reg, am, subject, collection, r, model.ActionRead)
			if err != nil {
				return nil, err
			}
			if allowed {
				out[collection] = changeEntry
				break
			}
		}
	}
	return out, nil
}

// Grant records an ACL grant for subject on (collection, recordID) within
// namespace, delegating to the namespace's AclManager.
func (s *Store) Grant(ctx context.Context, namespace, collection, recordID, subject string, actions ...model.Action) error {
	_, _, _, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return err
	}
	return am.Grant(ctx, collection, recordID, subject, actions...)
}

// Revoke removes any grant for subject on (collection, recordID) within
// namespace.
func (s *Store) Revoke(ctx context.Context, namespace, collection, recordID, subject string) error {
	_, _, _, am, err := s.collaborators(ctx, namespace)
	if err != nil {
		return err
	}
	return am.Revoke(ctx, collection, recordID, subject)
}

func (s *Store) requireSubject(ctx context.Context, um *user.Manager, subject string) error {
	if subject == model.ReservedSystemSubject {
		return nil
	}
	return um.MustExist(ctx, subject)
}

// isAllowed checks permission for an already-loaded record, avoiding a
// redundant Get when the caller (List/Summary) already holds it.
func (s *Store) isAllowed(ctx context.Context, b backend.Backend, reg *registry.Cache, am *acl.Manager, subject, collection string, rec model.Record, action model.Action) (bool, error) {
	if rec.Meta.Owner != nil && *rec.Meta.Owner == subject {
		return true, nil
	}
	ok, err := am.Check(ctx, subject, collection, rec.Meta.ID, action)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if rec.Meta.ParentID == nil {
		return false, nil
	}
	entry, ok := reg.Get(collection)
	if !ok || entry.ParentCollection == "" {
		return false, nil
	}
	allowed, err := s.checkAncestor(ctx, b, reg, am, subject, entry.ParentCollection, *rec.Meta.ParentID, action, 1, s.dm.PolicyMaxDepth())
	if err != nil {
		if syncerr.Of(err, syncerr.NotFound) {
			return false, nil
		}
		return false, err
	}
	return allowed, nil
}

// checkPermission implements spec §4.6's exact order: admin bypass, record
// load, owner match, explicit ACL grant, recursive ancestor grant, deny. It
// returns the record loaded at (collection, id) so callers needing it (Get,
// Update) avoid a second round trip.
func (s *Store) checkPermission(ctx context.Context, b backend.Backend, reg *registry.Cache, um *user.Manager, am *acl.Manager, subject, collection, id string, action model.Action) (model.Record, error) {
	role, found, err := um.GetRole(ctx, subject)
	if err != nil {
		return model.Record{}, err
	}
	if found && role == model.RoleAdmin {
		rec, err := b.Get(ctx, collection, id)
		if err != nil {
			if syncerr.Of(err, syncerr.NotFound) && action != model.ActionRead {
				return model.Record{}, syncerr.New(syncerr.NotFound, fmt.Sprintf("%s/%s not found", collection, id))
			}
			return model.Record{}, err
		}
		return rec, nil
	}

	rec, err := b.Get(ctx, collection, id)
	if err != nil {
		if syncerr.Of(err, syncerr.NotFound) {
			if action == model.ActionRead {
				return model.Record{}, syncerr.New(syncerr.NotFound, fmt.Sprintf("%s/%s not found", collection, id))
			}
			return model.Record{}, syncerr.New(syncerr.PermissionDenied, fmt.Sprintf("%s/%s not found", collection, id))
		}
		return model.Record{}, err
	}

	if rec.Meta.Owner != nil && *rec.Meta.Owner == subject {
		return rec, nil
	}

	ok, err := am.Check(ctx, subject, collection, id, action)
	if err != nil {
		return model.Record{}, err
	}
	if ok {
		return rec, nil
	}

	if rec.Meta.ParentID != nil {
		entry, ok := reg.Get(collection)
		if ok && entry.ParentCollection != "" {
			allowed, err := s.checkAncestor(ctx, b, reg, am, subject, entry.ParentCollection, *rec.Meta.ParentID, action, 1, s.dm.PolicyMaxDepth())
			if err != nil {
				if syncerr.Of(err, syncerr.NotFound) {
					return model.Record{}, syncerr.New(syncerr.PermissionDenied, "ancestor not found")
				}
				return model.Record{}, err
			}
			if allowed {
				return rec, nil
			}
		}
	}

	return model.Record{}, syncerr.New(syncerr.PermissionDenied, fmt.Sprintf("subject %q lacks %s on %s/%s", subject, action, collection, id))
}

// checkAncestor recurses up the parent_id chain evaluating owner/grant at
// each level, bounded by maxDepth (spec §4.6 step 5).
func (s *Store) checkAncestor(ctx context.Context, b backend.Backend, reg *registry.Cache, am *acl.Manager, subject, collection, id string, action model.Action, depth, maxDepth int) (bool, error) {
	if depth > maxDepth {
		return false, syncerr.New(syncerr.PolicyDepthExceeded, fmt.Sprintf("ancestor walk exceeded depth %d", maxDepth))
	}

	rec, err := b.Get(ctx, collection, id)
	if err != nil {
		return false, err
	}

	if rec.Meta.Owner != nil && *rec.Meta.Owner == subject {
		return true, nil
	}
	ok, err := am.Check(ctx, subject, collection, id, action)
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}
	if rec.Meta.ParentID == nil {
		return false, nil
	}
	entry, ok := reg.Get(collection)
	if !ok || entry.ParentCollection == "" {
		return false, nil
	}
	return s.checkAncestor(ctx, b, reg, am, subject, entry.ParentCollection, *rec.Meta.ParentID, action, depth+1, maxDepth)
}

// detectCycle reports whether assigning parentID (in parentCollection) as
// newID's parent would form a cycle: walks the ancestor chain starting at
// parentID looking for newID.
func detectCycle(ctx context.Context, b backend.Backend, reg *registry.Cache, parentCollection, parentID, newID string, maxDepth int) (bool, error) {
	cur, curCollection := parentID, parentCollection
	for depth := 0; ; depth++ {
		if cur == newID {
			return true, nil
		}
		if depth >= maxDepth {
			return false, syncerr.New(syncerr.PolicyDepthExceeded, fmt.Sprintf("ancestor walk exceeded depth %d", maxDepth))
		}
		rec, err := b.Get(ctx, curCollection, cur)
		if err != nil {
			if syncerr.Of(err, syncerr.NotFound) {
				return false, nil
			}
			return false, err
		}
		if rec.Meta.ParentID == nil {
			return false, nil
		}
		entry, ok := reg.Get(curCollection)
		if !ok || entry.ParentCollection == "" {
			return false, nil
		}
		cur, curCollection = *rec.Meta.ParentID, entry.ParentCollection
	}
}

// validateReferences checks that every non-nil $ref-style cross-collection
// reference in doc resolves, per spec §3/P3.
func validateReferences(ctx context.Context, b backend.Backend, entry *registry.Entry, doc model.Document) error {
	for prop, targetCollection := range entry.References {
		v, present := doc[prop]
		if !present || v == nil {
			continue
		}
		id, ok := v.(string)
		if !ok {
			continue
		}
		exists, err := b.Exists(ctx, targetCollection, id)
		if err != nil {
			return err
		}
		if !exists {
			return syncerr.New(syncerr.DanglingReference, fmt.Sprintf("%q references missing %s/%s", prop, targetCollection, id))
		}
	}
	return nil
}

func cloneDoc(doc model.Document) model.Document {
	out := make(model.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

func popID(doc model.Document) (string, bool) {
	v, ok := doc["id"]
	if !ok {
		return "", false
	}
	delete(doc, "id")
	s, ok := v.(string)
	return s, ok
}

func stringPropertyPointer(doc model.Document, property string) (*string, error) {
	v, present := doc[property]
	if !present || v == nil {
		return nil, nil
	}
	s, ok := v.(string)
	if !ok {
		return nil, syncerr.Validation("/"+property, "must be a string")
	}
	return &s, nil
}

func sameStringPointer(a, b *string) bool {
	if a == nil && b == nil {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return *a == *b
}
