package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/mattn/go-sqlite3"

	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/syncerr"
)

// Insert persists a new record row. Relational unique-index collisions
// surface as UniqueViolation, per spec §4.2 step 4.
func (b *Backend) Insert(ctx context.Context, entry *registry.Entry, meta model.Meta, doc model.Document) error {
	table := backend.SanitizeCollection(entry.Collection)
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document for %q: %w", entry.Collection, err)
	}

	stmt := fmt.Sprintf(`INSERT INTO %q (id, owner, parent_id, created_at, updated_at, doc) VALUES (?, ?, ?, ?, ?, ?)`, table)
	err = withRetry(ctx, b.logger, "insert", func() error {
		_, err := b.r.ExecContext(ctx, stmt, meta.ID, meta.Owner, meta.ParentID, meta.CreatedAt, meta.UpdatedAt, string(docJSON))
		return err
	})
	if err != nil {
		return translateWriteErr(err, entry.Collection)
	}
	return nil
}

// Update overwrites owner/parent_id/doc/updated_at for an existing row.
// created_at is never touched, per invariant 2.
func (b *Backend) Update(ctx context.Context, entry *registry.Entry, meta model.Meta, doc model.Document) error {
	table := backend.SanitizeCollection(entry.Collection)
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling document for %q: %w", entry.Collection, err)
	}

	stmt := fmt.Sprintf(`UPDATE %q SET owner = ?, parent_id = ?, updated_at = ?, doc = ? WHERE id = ?`, table)
	var res sql.Result
	err = withRetry(ctx, b.logger, "update", func() error {
		r, err := b.r.ExecContext(ctx, stmt, meta.Owner, meta.ParentID, meta.UpdatedAt, string(docJSON), meta.ID)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return translateWriteErr(err, entry.Collection)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result for %q: %w", entry.Collection, err)
	}
	if n == 0 {
		return syncerr.New(syncerr.NotFound, fmt.Sprintf("record %q not found in %q", meta.ID, entry.Collection))
	}
	return nil
}

// translateWriteErr classifies a failed write. An error withRetry already
// gave a stable Kind to (e.g. StorageUnavailable after exhausting
// retries) passes through unchanged; everything else is inspected for a
// unique-constraint violation.
func translateWriteErr(err error, collection string) error {
	var classified *syncerr.Error
	if errors.As(err, &classified) {
		return err
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return syncerr.Wrap(syncerr.UniqueViolation, fmt.Sprintf("unique constraint violated in %q", collection), err)
	}
	return fmt.Errorf("writing to %q: %w", collection, err)
}

// Delete removes a record by id. Deleting a missing id is a no-op, not an
// error, matching the teacher's DeleteDocuments idiom.
func (b *Backend) Delete(ctx context.Context, collection, id string) error {
	table := backend.SanitizeCollection(collection)
	stmt := fmt.Sprintf(`DELETE FROM %q WHERE id = ?`, table)
	err := withRetry(ctx, b.logger, "delete", func() error {
		_, err := b.r.ExecContext(ctx, stmt, id)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting from %q: %w", collection, err)
	}
	return nil
}

// Get returns the full record for id, or NotFound.
func (b *Backend) Get(ctx context.Context, collection, id string) (model.Record, error) {
	table := backend.SanitizeCollection(collection)
	stmt := fmt.Sprintf(`SELECT id, owner, parent_id, created_at, updated_at, doc FROM %q WHERE id = ?`, table)
	var rec model.Record
	err := withRetry(ctx, b.logger, "get", func() error {
		row := b.r.QueryRowContext(ctx, stmt, id)
		r, err := scanRecord(row.Scan)
		if err != nil {
			return err
		}
		rec = r
		return nil
	})
	if err == sql.ErrNoRows {
		return model.Record{}, syncerr.New(syncerr.NotFound, fmt.Sprintf("record %q not found in %q", id, collection))
	}
	if err != nil {
		return model.Record{}, fmt.Errorf("reading %q from %q: %w", id, collection, err)
	}
	return rec, nil
}

// Exists reports whether id is present in collection.
func (b *Backend) Exists(ctx context.Context, collection, id string) (bool, error) {
	table := backend.SanitizeCollection(collection)
	stmt := fmt.Sprintf(`SELECT 1 FROM %q WHERE id = ? LIMIT 1`, table)
	var one int
	err := withRetry(ctx, b.logger, "exists", func() error {
		return b.r.QueryRowContext(ctx, stmt, id).Scan(&one)
	})
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking existence of %q in %q: %w", id, collection, err)
	}
	return true, nil
}

// ChildrenOf returns every record whose parent_id equals parentID.
func (b *Backend) ChildrenOf(ctx context.Context, collection, parentID string) ([]model.Record, error) {
	table := backend.SanitizeCollection(collection)
	stmt := fmt.Sprintf(`SELECT id, owner, parent_id, created_at, updated_at, doc FROM %q WHERE parent_id = ? ORDER BY updated_at ASC, id ASC`, table)
	var rows *sql.Rows
	err := withRetry(ctx, b.logger, "children-of", func() error {
		r, err := b.r.QueryContext(ctx, stmt, parentID)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing children of %q in %q: %w", parentID, collection, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecord(scan func(dest ...any) error) (model.Record, error) {
	var (
		id, docJSON         string
		owner, parentID     sql.NullString
		createdAt, updatedAt int64
	)
	if err := scan(&id, &owner, &parentID, &createdAt, &updatedAt, &docJSON); err != nil {
		return model.Record{}, err
	}
	var doc model.Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return model.Record{}, fmt.Errorf("unmarshaling stored document: %w", err)
	}
	meta := model.Meta{ID: id, CreatedAt: createdAt, UpdatedAt: updatedAt}
	if owner.Valid {
		meta.Owner = &owner.String
	}
	if parentID.Valid {
		meta.ParentID = &parentID.String
	}
	return model.Record{Meta: meta, Doc: doc}, nil
}

func scanRecords(rows *sql.Rows) ([]model.Record, error) {
	var out []model.Record
	for rows.Next() {
		rec, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// BumpChange increments collection's monotonic version counter and
// stamps last_updated_at, per invariant/P7.
func (b *Backend) BumpChange(ctx context.Context, collection string, now int64) error {
	stmt := fmt.Sprintf(`INSERT INTO %s (collection, version, last_updated_at) VALUES (?, 1, ?)
		ON CONFLICT(collection) DO UPDATE SET version = version + 1, last_updated_at = excluded.last_updated_at`, reservedChangesTable)
	err := withRetry(ctx, b.logger, "bump-change", func() error {
		_, err := b.r.ExecContext(ctx, stmt, collection, now)
		return err
	})
	if err != nil {
		return fmt.Errorf("bumping change counter for %q: %w", collection, err)
	}
	return nil
}

// Summary returns the {version, last_updated_at} digest for every
// collection with at least one recorded change.
func (b *Backend) Summary(ctx context.Context) (map[string]model.ChangeEntry, error) {
	stmt := fmt.Sprintf(`SELECT collection, version, last_updated_at FROM %s`, reservedChangesTable)
	var rows *sql.Rows
	err := withRetry(ctx, b.logger, "summary", func() error {
		r, err := b.r.QueryContext(ctx, stmt)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading change summary: %w", err)
	}
	defer rows.Close()

	out := make(map[string]model.ChangeEntry)
	for rows.Next() {
		var collection string
		var entry model.ChangeEntry
		if err := rows.Scan(&collection, &entry.Version, &entry.LastUpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning change summary row: %w", err)
		}
		out[collection] = entry
	}
	return out, rows.Err()
}
