// Package model holds the value types shared across the core: the record
// envelope, built-in user records, ACL grants, and change-summary entries.
// Grounded on the teacher's core.Document map type (core/executor.go) and
// its Meta-carrying persistence events (core/persistence-interface.go).
package model

// Document is a JSON object conforming to a collection's schema, before
// Meta is merged in or stripped out.
type Document map[string]any

// Meta is the core-managed envelope merged into every stored record.
type Meta struct {
	ID        string  `json:"id"`
	Owner     *string `json:"owner,omitempty"`
	ParentID  *string `json:"parent_id,omitempty"`
	CreatedAt int64   `json:"created_at"`
	UpdatedAt int64   `json:"updated_at"`
}

// Record pairs the stored document body with its Meta envelope, as
// returned by Backend.get/list.
type Record struct {
	Meta Meta     `json:"meta"`
	Doc  Document `json:"doc"`
}

// Role enumerates the two roles recognized by UserManager.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User is a record in the reserved built-in "user" collection.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// Action is one of the three permissions an ACL grant can carry.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
)

// Permission bitmask values persisted in __acl.perms.
const (
	PermRead   uint8 = 1 << 0
	PermWrite  uint8 = 1 << 1
	PermDelete uint8 = 1 << 2
)

// BitFor maps an Action to its bitmask bit.
func BitFor(a Action) uint8 {
	switch a {
	case ActionRead:
		return PermRead
	case ActionWrite:
		return PermWrite
	case ActionDelete:
		return PermDelete
	default:
		return 0
	}
}

// Grant is an ACL tuple (collection, record_id, subject, permissions).
type Grant struct {
	Collection string
	RecordID   string
	Subject    string
	Perms      uint8
}

// Has reports whether the grant covers action a.
func (g Grant) Has(a Action) bool {
	return g.Perms&BitFor(a) != 0
}

// ChangeEntry is the per-collection version digest used for pull-based
// sync, returned in bulk by Store.Summary.
type ChangeEntry struct {
	Version       int64 `json:"version"`
	LastUpdatedAt int64 `json:"last_updated_at"`
}

// ReservedSystemSubject is the principal used for writes (e.g. seeding
// user records) that are not attributable to any authenticated caller.
// Store skips the user-existence check for it and leaves owner null.
const ReservedSystemSubject = "__system__"

// UserCollection is the reserved name of the built-in user collection.
const UserCollection = "user"
