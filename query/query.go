// Package query defines the trimmed filter/pagination DSL used by
// Backend.List. Grounded on the teacher's core/query/dsl.go, narrowed from
// the teacher's general-purpose query language (joins, aggregations,
// computed projections dropped — List only needs predicate filtering over
// top-level document properties plus parent_id/owner and stable-cursor
// pagination, per spec §4.2).
package query

// LogicalOperator combines filter conditions.
type LogicalOperator string

const (
	And LogicalOperator = "and"
	Or  LogicalOperator = "or"
)

// ComparisonOperator is the set of operators a FilterCondition may use.
type ComparisonOperator string

const (
	Eq         ComparisonOperator = "eq"
	Neq        ComparisonOperator = "neq"
	Lt         ComparisonOperator = "lt"
	Lte        ComparisonOperator = "lte"
	Gt         ComparisonOperator = "gt"
	Gte        ComparisonOperator = "gte"
	In         ComparisonOperator = "in"
	Nin        ComparisonOperator = "nin"
	Contains   ComparisonOperator = "contains"
	StartsWith ComparisonOperator = "startswith"
	EndsWith   ComparisonOperator = "endswith"
	Exists     ComparisonOperator = "exists"
	NotExists  ComparisonOperator = "nexists"
)

// FilterCondition is a single field/operator/value predicate. Field names
// referring to document properties are resolved to json_extract(doc, '$.x')
// by the backend's query generator; "parent_id", "owner", "id",
// "created_at", "updated_at" resolve to their physical columns instead.
type FilterCondition struct {
	Field    string
	Operator ComparisonOperator
	Value    any
}

// FilterGroup combines nested Filters with a LogicalOperator.
type FilterGroup struct {
	Operator LogicalOperator
	Filters  []Filter
}

// Filter is a union of a single condition or a group of filters.
type Filter struct {
	Condition *FilterCondition
	Group     *FilterGroup
}

// Cursor identifies a stable resume point for pagination: the last seen
// (updated_at, id) tuple, ordered updated_at ASC, id ASC per spec §4.2.
type Cursor struct {
	UpdatedAt int64
	ID        string
}

// ListQuery is the full set of parameters accepted by Backend.List.
type ListQuery struct {
	Filter   *Filter
	ParentID *string // optional parent_id equality filter
	Limit    int     // 0 means "no explicit limit" (backend applies a sane default)
	After    *Cursor // resume point, exclusive
}

// Builder provides a small fluent API for constructing a ListQuery,
// mirroring the teacher's QueryBuilder idiom (core/query/builder.go) at a
// scale matching this package's narrower DSL.
type Builder struct {
	q ListQuery
}

func NewBuilder() *Builder { return &Builder{} }

// Where adds a condition; each later call combines it with the existing
// filter under And.
func (b *Builder) Where(field string, op ComparisonOperator, value any) *Builder {
	cond := &FilterCondition{Field: field, Operator: op, Value: value}
	f := Filter{Condition: cond}
	if b.q.Filter == nil {
		b.q.Filter = &f
		return b
	}
	b.q.Filter = &Filter{Group: &FilterGroup{Operator: And, Filters: []Filter{*b.q.Filter, f}}}
	return b
}

func (b *Builder) WithParentID(parentID string) *Builder {
	b.q.ParentID = &parentID
	return b
}

func (b *Builder) Limit(n int) *Builder {
	b.q.Limit = n
	return b
}

func (b *Builder) After(c Cursor) *Builder {
	b.q.After = &c
	return b
}

func (b *Builder) Build() ListQuery { return b.q }
