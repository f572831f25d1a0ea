package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/syncerr"
)

const (
	reservedSchemasTable = "__schemas"
	reservedAclTable     = "__acl"
	reservedChangesTable = "__changes"
)

// ensureReservedTables creates the three reserved metadata tables if
// absent, per spec §6's persistent state layout.
func ensureReservedTables(ctx context.Context, r runner, logger *zap.Logger) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (name TEXT PRIMARY KEY, schema TEXT NOT NULL)`, reservedSchemasTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collection TEXT NOT NULL,
			record_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			perms INTEGER NOT NULL,
			PRIMARY KEY (collection, record_id, subject)
		)`, reservedAclTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			collection TEXT PRIMARY KEY,
			version INTEGER NOT NULL,
			last_updated_at INTEGER NOT NULL
		)`, reservedChangesTable),
	}
	for _, stmt := range stmts {
		s := stmt
		err := withRetry(ctx, logger, "ensure-reserved-tables", func() error {
			_, err := r.ExecContext(ctx, s)
			return err
		})
		if err != nil {
			return fmt.Errorf("executing %q: %w", s, err)
		}
	}
	return nil
}

// EnsureCollection persists entry's raw schema into __schemas (idempotent
// iff byte-identical, per P1) and, on first registration, creates the
// collection's physical table plus its parent_id index and one partial
// unique index per x-unique property.
func (b *Backend) EnsureCollection(ctx context.Context, entry *registry.Entry) error {
	var stored []byte
	scanErr := withRetry(ctx, b.logger, "lookup-schema", func() error {
		row := b.r.QueryRowContext(ctx, fmt.Sprintf(`SELECT schema FROM %s WHERE name = ?`, reservedSchemasTable), entry.Collection)
		return row.Scan(&stored)
	})
	switch {
	case scanErr == nil:
		if string(stored) != string(entry.Raw) {
			return syncerr.New(syncerr.SchemaConflict, fmt.Sprintf("collection %q already registered with a different schema", entry.Collection))
		}
		return nil
	case scanErr == sql.ErrNoRows:
		// fall through to create
	default:
		return fmt.Errorf("looking up stored schema for %q: %w", entry.Collection, scanErr)
	}

	table := backend.SanitizeCollection(entry.Collection)

	createTable := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (
		id TEXT PRIMARY KEY,
		owner TEXT,
		parent_id TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		doc TEXT NOT NULL
	)`, table)
	if err := withRetry(ctx, b.logger, "create-table", func() error {
		_, err := b.r.ExecContext(ctx, createTable)
		return err
	}); err != nil {
		return fmt.Errorf("creating table for %q: %w", entry.Collection, err)
	}

	parentIndex := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %q ON %q (parent_id)`, "idx_"+table+"_parent", table)
	if err := withRetry(ctx, b.logger, "create-parent-index", func() error {
		_, err := b.r.ExecContext(ctx, parentIndex)
		return err
	}); err != nil {
		return fmt.Errorf("creating parent_id index for %q: %w", entry.Collection, err)
	}

	for _, prop := range entry.UniqueProperties {
		idxName := "idx_" + table + "_uniq_" + prop
		extract := fmt.Sprintf("json_extract(doc, '$.%s')", prop)
		stmt := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %q ON %q (%s) WHERE %s IS NOT NULL`, idxName, table, extract, extract)
		if err := withRetry(ctx, b.logger, "create-unique-index", func() error {
			_, err := b.r.ExecContext(ctx, stmt)
			return err
		}); err != nil {
			return fmt.Errorf("creating unique index for %q.%s: %w", entry.Collection, prop, err)
		}
	}

	if err := withRetry(ctx, b.logger, "persist-schema", func() error {
		_, err := b.r.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s (name, schema) VALUES (?, ?)`, reservedSchemasTable), entry.Collection, string(entry.Raw))
		return err
	}); err != nil {
		return fmt.Errorf("persisting schema for %q: %w", entry.Collection, err)
	}

	return nil
}
