// Package acl implements AclManager (component C4): per-record grants
// keyed by (collection, record_id, subject). No inheritance logic lives
// here — ancestor-chain inheritance is Store's concern, per spec §4.4.
package acl

import (
	"context"

	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/model"
)

// Manager is a thin wrapper over a namespace's Backend, exposing the
// grant/revoke/check operations spec §4.4 names.
type Manager struct {
	b backend.Backend
}

// New constructs a Manager bound to a namespace's Backend.
func New(b backend.Backend) *Manager {
	return &Manager{b: b}
}

// Grant records that subject has the given actions on (collection,
// record_id), replacing any previous grant for the same tuple.
func (m *Manager) Grant(ctx context.Context, collection, recordID, subject string, actions ...model.Action) error {
	var perms uint8
	for _, a := range actions {
		perms |= model.BitFor(a)
	}
	return m.b.AclGrant(ctx, model.Grant{Collection: collection, RecordID: recordID, Subject: subject, Perms: perms})
}

// Revoke removes any grant for (collection, record_id, subject).
func (m *Manager) Revoke(ctx context.Context, collection, recordID, subject string) error {
	return m.b.AclRevoke(ctx, collection, recordID, subject)
}

// Check reports whether subject has an explicit grant for action on
// (collection, record_id).
func (m *Manager) Check(ctx context.Context, subject, collection, recordID string, action model.Action) (bool, error) {
	return m.b.AclCheck(ctx, subject, collection, recordID, action)
}
