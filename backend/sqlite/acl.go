package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/asaidimu/go-syncstore/model"
)

// AclGrant upserts a grant tuple into the reserved __acl table (component
// C4). A repeated grant for the same (collection, record_id, subject)
// overwrites the permission bitmask rather than accumulating bits, which
// keeps revoke-then-grant sequences predictable.
func (b *Backend) AclGrant(ctx context.Context, g model.Grant) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (collection, record_id, subject, perms) VALUES (?, ?, ?, ?)
		ON CONFLICT(collection, record_id, subject) DO UPDATE SET perms = excluded.perms`, reservedAclTable)
	err := withRetry(ctx, b.logger, "acl-grant", func() error {
		_, err := b.r.ExecContext(ctx, stmt, g.Collection, g.RecordID, g.Subject, g.Perms)
		return err
	})
	if err != nil {
		return fmt.Errorf("granting acl for %s/%s/%s: %w", g.Collection, g.RecordID, g.Subject, err)
	}
	return nil
}

// AclRevoke deletes any grant for (collection, record_id, subject).
func (b *Backend) AclRevoke(ctx context.Context, collection, recordID, subject string) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE collection = ? AND record_id = ? AND subject = ?`, reservedAclTable)
	err := withRetry(ctx, b.logger, "acl-revoke", func() error {
		_, err := b.r.ExecContext(ctx, stmt, collection, recordID, subject)
		return err
	})
	if err != nil {
		return fmt.Errorf("revoking acl for %s/%s/%s: %w", collection, recordID, subject, err)
	}
	return nil
}

// AclCheck reports whether subject has action explicitly granted on
// (collection, record_id). No inheritance logic lives here, per spec
// §4.4 — ancestor-chain recursion is Store's concern.
func (b *Backend) AclCheck(ctx context.Context, subject, collection, recordID string, action model.Action) (bool, error) {
	stmt := fmt.Sprintf(`SELECT perms FROM %s WHERE collection = ? AND record_id = ? AND subject = ?`, reservedAclTable)
	var perms uint8
	err := withRetry(ctx, b.logger, "acl-check", func() error {
		return b.r.QueryRowContext(ctx, stmt, collection, recordID, subject).Scan(&perms)
	})
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking acl for %s/%s/%s: %w", collection, recordID, subject, err)
	}
	return perms&model.BitFor(action) != 0, nil
}
