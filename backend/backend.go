// Package backend defines the polymorphic storage contract (component C1):
// physical persistence per namespace, table lifecycle, and raw CRUD with
// validation hooks. Backend is implemented by backend/sqlite for both
// file-backed and ":memory:" namespaces, per the design note that
// ":memory:" is served by the identical relational code path rather than a
// second implementation.
package backend

import (
	"context"
	"regexp"
	"strings"

	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/query"
	"github.com/asaidimu/go-syncstore/registry"
)

// Backend is the capability set spec §9 calls out: ensure_collection,
// insert, update, delete, get, list, exists, children_of, summary.
type Backend interface {
	// EnsureCollection creates the physical table and indexes for a newly
	// registered schema. Called once per collection, after schema
	// registration succeeds.
	EnsureCollection(ctx context.Context, entry *registry.Entry) error

	// Insert persists the row without running schema validation (schema,
	// reference and parent checks are the caller's job; Backend itself only
	// enforces the relational constraints: primary key and unique
	// indexes) and stamps nothing (Meta arrives fully formed from the Store).
	Insert(ctx context.Context, entry *registry.Entry, meta model.Meta, doc model.Document) error

	// Update overwrites doc/meta for an existing record id.
	Update(ctx context.Context, entry *registry.Entry, meta model.Meta, doc model.Document) error

	// Delete removes a record by id. Deleting a missing id is not an
	// error at this layer; callers check existence first via Get/Exists.
	Delete(ctx context.Context, collection, id string) error

	// Get returns the full record (Meta merged with Doc) for id.
	Get(ctx context.Context, collection, id string) (model.Record, error)

	// Exists reports whether a record with id is present in collection.
	Exists(ctx context.Context, collection, id string) (bool, error)

	// List returns records matching q, ordered updated_at ASC, id ASC.
	// entry is the collection's registered schema, used to validate that
	// q's filter fields name real document properties (or the fixed
	// physical columns) before they are spliced into generated SQL.
	List(ctx context.Context, collection string, entry *registry.Entry, q query.ListQuery) ([]model.Record, error)

	// ChildrenOf returns every record in collection whose parent_id equals
	// parentID, used for cycle detection and recursive ACL walks.
	ChildrenOf(ctx context.Context, collection, parentID string) ([]model.Record, error)

	// BumpChange increments collection's change counter and stamps
	// last_updated_at, called once per successful write.
	BumpChange(ctx context.Context, collection string, now int64) error

	// Summary returns the per-collection {version, last_updated_at}
	// digest for every collection with at least one change entry.
	Summary(ctx context.Context) (map[string]model.ChangeEntry, error)

	// WithTx runs fn inside a single exclusive write transaction,
	// closing the check-then-act window across validation-dependent
	// reads and the write itself, per spec §4.2's concurrency note.
	// fn receives a Backend scoped to the transaction.
	WithTx(ctx context.Context, fn func(tx Backend) error) error

	// AclGrant/AclRevoke/AclCheck implement the reserved __acl table
	// operations (component C4); kept on Backend because they share the
	// same connection/transaction plumbing as collection tables.
	AclGrant(ctx context.Context, g model.Grant) error
	AclRevoke(ctx context.Context, collection, recordID, subject string) error
	AclCheck(ctx context.Context, subject, collection, recordID string, action model.Action) (bool, error)

	Close() error
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// SanitizeCollection derives a physical table name from a user-facing
// collection name: lowercase, replace runs of non-alphanumeric characters
// with "_", prefix with "c_", per spec §3.
func SanitizeCollection(collection string) string {
	return "c_" + sanitize(collection)
}

// SanitizeNamespace derives a database file stem from a namespace name,
// using the same rule minus the "c_" prefix, per spec §6.
func SanitizeNamespace(namespace string) string {
	return sanitize(namespace)
}

func sanitize(s string) string {
	lower := strings.ToLower(s)
	return strings.Trim(nonAlnum.ReplaceAllString(lower, "_"), "_")
}
