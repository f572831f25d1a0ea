package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/asaidimu/go-syncstore/backend"
	"github.com/asaidimu/go-syncstore/model"
	"github.com/asaidimu/go-syncstore/query"
	"github.com/asaidimu/go-syncstore/registry"
	"github.com/asaidimu/go-syncstore/syncerr"
)

// physicalColumns are the columns resolvable directly, without
// json_extract; everything else must be a property declared in the
// collection's own schema.
var physicalColumns = map[string]bool{
	"id": true, "owner": true, "parent_id": true,
	"created_at": true, "updated_at": true,
}

// quoteIdentifier safely quotes an identifier for use in a generated
// SQLite query, mirroring the teacher's sqlite/query.go quoteIdentifier.
func quoteIdentifier(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// fieldSQL translates a query.FilterCondition field name into its SQL
// accessor, rejecting anything that isn't a physical column or a property
// entry's schema actually declares: unvalidated field names spliced into
// json_extract's path argument are a SQL injection vector (the teacher's
// sqlite/query.go getFieldSQL guards the same way against schema.Fields).
func fieldSQL(field string, entry *registry.Entry) (string, error) {
	if physicalColumns[field] {
		return quoteIdentifier(field), nil
	}
	if entry == nil || !entry.PropertyNames[field] {
		return "", syncerr.Validation("/"+field, fmt.Sprintf("%q is not a known field of this collection", field))
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", quoteIdentifier("doc"), field), nil
}

const defaultListLimit = 100

// List returns records matching q, ordered updated_at ASC, id ASC per
// spec §4.2, grounded on the teacher's sqlite/query.go WHERE-builder idiom
// narrowed to this package's trimmed query.ListQuery.
func (b *Backend) List(ctx context.Context, collection string, entry *registry.Entry, q query.ListQuery) ([]model.Record, error) {
	table := backend.SanitizeCollection(collection)

	var clauses []string
	var args []any

	if q.ParentID != nil {
		clauses = append(clauses, "parent_id = ?")
		args = append(args, *q.ParentID)
	}
	if q.Filter != nil {
		clause, filterArgs, err := buildFilter(q.Filter, entry)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, clause)
		args = append(args, filterArgs...)
	}
	if q.After != nil {
		clauses = append(clauses, "(updated_at > ? OR (updated_at = ? AND id > ?))")
		args = append(args, q.After.UpdatedAt, q.After.UpdatedAt, q.After.ID)
	}

	stmt := fmt.Sprintf(`SELECT id, owner, parent_id, created_at, updated_at, doc FROM %q`, table)
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY updated_at ASC, id ASC"

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	stmt += " LIMIT ?"
	args = append(args, limit)

	var rows *sql.Rows
	err := withRetry(ctx, b.logger, "list", func() error {
		r, err := b.r.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}
		rows = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %q: %w", collection, err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// buildFilter recursively translates a query.Filter into a SQL predicate
// and its bound arguments, mirroring the teacher's buildWhereClause /
// buildCondition recursion over FilterGroup/FilterCondition.
func buildFilter(f *query.Filter, entry *registry.Entry) (string, []any, error) {
	switch {
	case f.Condition != nil:
		return buildCondition(f.Condition, entry)
	case f.Group != nil:
		return buildGroup(f.Group, entry)
	default:
		return "1=1", nil, nil
	}
}

func buildGroup(g *query.FilterGroup, entry *registry.Entry) (string, []any, error) {
	if len(g.Filters) == 0 {
		return "1=1", nil, nil
	}
	joiner := " AND "
	if g.Operator == query.Or {
		joiner = " OR "
	}
	var parts []string
	var args []any
	for _, child := range g.Filters {
		clause, childArgs, err := buildFilter(&child, entry)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+clause+")")
		args = append(args, childArgs...)
	}
	return strings.Join(parts, joiner), args, nil
}

func buildCondition(c *query.FilterCondition, entry *registry.Entry) (string, []any, error) {
	col, err := fieldSQL(c.Field, entry)
	if err != nil {
		return "", nil, err
	}
	switch c.Operator {
	case query.Eq:
		return col + " = ?", []any{c.Value}, nil
	case query.Neq:
		return col + " != ?", []any{c.Value}, nil
	case query.Lt:
		return col + " < ?", []any{c.Value}, nil
	case query.Lte:
		return col + " <= ?", []any{c.Value}, nil
	case query.Gt:
		return col + " > ?", []any{c.Value}, nil
	case query.Gte:
		return col + " >= ?", []any{c.Value}, nil
	case query.In:
		values, ok := c.Value.([]any)
		if !ok || len(values) == 0 {
			return "0", nil, nil
		}
		placeholders := strings.Repeat("?,", len(values))
		placeholders = placeholders[:len(placeholders)-1]
		return fmt.Sprintf("%s IN (%s)", col, placeholders), values, nil
	case query.Nin:
		values, ok := c.Value.([]any)
		if !ok || len(values) == 0 {
			return "1=1", nil, nil
		}
		placeholders := strings.Repeat("?,", len(values))
		placeholders = placeholders[:len(placeholders)-1]
		return fmt.Sprintf("%s NOT IN (%s)", col, placeholders), values, nil
	case query.Contains:
		return col + " LIKE ?", []any{"%" + fmt.Sprint(c.Value) + "%"}, nil
	case query.StartsWith:
		return col + " LIKE ?", []any{fmt.Sprint(c.Value) + "%"}, nil
	case query.EndsWith:
		return col + " LIKE ?", []any{"%" + fmt.Sprint(c.Value)}, nil
	case query.Exists:
		return col + " IS NOT NULL", nil, nil
	case query.NotExists:
		return col + " IS NULL", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported comparison operator %q", c.Operator)
	}
}
