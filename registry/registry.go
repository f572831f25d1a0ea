// Package registry implements the Schema Registry & Validator Cache
// (components C1/C2): immutable, append-only, per-namespace compilation and
// caching of JSON Schemas, including the two custom keywords x-unique and
// x-parent-id.
//
// Grounded on the teacher's reserved schemas-collection idiom
// (core/persistence/schemas.go's SCHEMA_COLLECTION_NAME + SchemaRecord) for
// the append-only/idempotent-registration semantics, and on
// github.com/kaptinlin/jsonschema for real draft-07-compatible compilation.
// Custom keywords are read from Schema.Extra, which requires
// compiler.SetPreserveExtra(true).
package registry

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonschema"

	"github.com/asaidimu/go-syncstore/syncerr"
)

// Entry is the compiled, cached representation of one collection's schema.
// Once published it is never mutated, satisfying the "process-local,
// immutable after insert, readable without locking after publication"
// requirement on the validator cache.
type Entry struct {
	Collection       string
	Raw              []byte
	Compiled         *jsonschema.Schema
	UniqueProperties []string // top-level property names carrying x-unique:true
	ParentProperty   string   // "" if schema has no x-parent-id property
	ParentCollection string   // target collection of x-parent-id, "" if none

	// References maps property name to target collection for top-level
	// properties whose schema declares `"$ref": "<collection>.id"`,
	// spec §3's standard (non-parental) cross-collection reference form.
	References map[string]string

	// PropertyNames is the set of top-level document properties this
	// schema declares, used by the Backend's query generator to reject
	// filter fields that aren't part of the collection's schema.
	PropertyNames map[string]bool
}

// HasParent reports whether this schema declares an x-parent-id property.
func (e *Entry) HasParent() bool { return e.ParentProperty != "" }

// ValidationIssue is a single JSON-Schema failure, carrying the failing
// instance pointer and a human reason, per spec's ValidationError shape.
type ValidationIssue struct {
	Pointer string
	Reason  string
}

// Cache is the process-local, per-Backend validator cache and schema
// registry. It is an explicit collaborator constructed by callers (never an
// ambient singleton) so tests stay hermetic, per the "Global state" design
// note.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	sanitized map[string]string // sanitized table name -> owning collection, spec §3
	compiler  *jsonschema.Compiler
}

// New constructs an empty Cache with extras preservation turned on so
// x-unique/x-parent-id survive compilation.
func New() *Cache {
	compiler := jsonschema.NewCompiler()
	compiler.SetPreserveExtra(true)
	return &Cache{
		entries:   make(map[string]*Entry),
		sanitized: make(map[string]string),
		compiler:  compiler,
	}
}

// tableNamePattern mirrors backend.SanitizeCollection's algorithm without
// importing the backend package, which itself imports registry for Entry.
var tableNamePattern = regexp.MustCompile(`[^a-z0-9]+`)

func sanitizedTableName(collection string) string {
	lower := strings.ToLower(collection)
	return "c_" + strings.Trim(tableNamePattern.ReplaceAllString(lower, "_"), "_")
}

// Get returns the cached Entry for collection, if registered.
func (c *Cache) Get(collection string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[collection]
	return e, ok
}

// Names returns every registered collection name, in no particular order.
func (c *Cache) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	return names
}

// Register compiles and caches schemaJSON for collection. Registration is
// idempotent only when the stored schema byte-equals the new one
// (spec P1); otherwise it fails with SchemaConflict. knownCollections is
// the set of already-registered collections in the same namespace, used to
// reject forward x-parent-id references.
func (c *Cache) Register(collection string, schemaJSON []byte, knownCollections map[string]bool) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[collection]; ok {
		if bytes.Equal(existing.Raw, schemaJSON) {
			return existing, nil
		}
		return nil, syncerr.New(syncerr.SchemaConflict, fmt.Sprintf("collection %q already registered with a different schema", collection))
	}

	// spec §3: two collections whose sanitized physical table names
	// collide are rejected at registration, even though their declared
	// names differ (e.g. "foo-bar" and "foo_bar" both sanitize to
	// "c_foo_bar"), since EnsureCollection would otherwise silently reuse
	// one physical table for both.
	table := sanitizedTableName(collection)
	if owner, taken := c.sanitized[table]; taken && owner != collection {
		return nil, syncerr.New(syncerr.SchemaConflict, fmt.Sprintf("collection %q's sanitized table name %q collides with already-registered collection %q", collection, table, owner))
	}

	compiled, err := c.compiler.Compile(schemaJSON)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.InvalidSchema, fmt.Sprintf("schema for %q does not compile", collection), err)
	}

	uniqueProps, parentProp, parentCollection, err := extractCustomKeywords(compiled)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.InvalidSchema, fmt.Sprintf("schema for %q has invalid custom keywords", collection), err)
	}

	// A collection may declare x-parent-id targeting itself (e.g. nested
	// folders) without tripping the forward-reference check: self-reference
	// is trivially satisfied once the collection itself is registered,
	// below.
	if parentCollection != "" && parentCollection != collection && !knownCollections[parentCollection] {
		return nil, syncerr.New(syncerr.InvalidSchema, fmt.Sprintf("x-parent-id on %q targets unregistered collection %q", collection, parentCollection))
	}

	refs, err := extractReferences(schemaJSON)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.InvalidSchema, fmt.Sprintf("schema for %q has an invalid $ref", collection), err)
	}

	propNames := make(map[string]bool)
	if compiled.Properties != nil {
		for name := range *compiled.Properties {
			propNames[name] = true
		}
	}

	entry := &Entry{
		Collection:       collection,
		Raw:              append([]byte(nil), schemaJSON...),
		Compiled:         compiled,
		UniqueProperties: uniqueProps,
		ParentProperty:   parentProp,
		ParentCollection: parentCollection,
		References:       refs,
		PropertyNames:    propNames,
	}
	c.entries[collection] = entry
	c.sanitized[table] = collection
	return entry, nil
}

// extractCustomKeywords walks the compiled schema's top-level properties
// looking for x-unique and x-parent-id. x-unique produces no validation
// effect at the JSON-Schema level; it only signals the Backend to consult
// its unique index. For x-parent-id this checks that the keyword's target
// is a non-empty string and that at most one property carries it; the
// property's declared Type is not inspected here (Store rejects a
// non-string parent value at write time).
func extractCustomKeywords(s *jsonschema.Schema) (uniqueProps []string, parentProp string, parentCollection string, err error) {
	if s.Properties == nil {
		return nil, "", "", nil
	}
	for name, prop := range *s.Properties {
		if prop.Extra == nil {
			continue
		}
		if v, ok := prop.Extra["x-unique"]; ok {
			if b, ok := v.(bool); ok && b {
				uniqueProps = append(uniqueProps, name)
			}
		}
		if v, ok := prop.Extra["x-parent-id"]; ok {
			target, ok := v.(string)
			if !ok || target == "" {
				return nil, "", "", fmt.Errorf("x-parent-id on property %q must be a non-empty string", name)
			}
			if parentProp != "" {
				return nil, "", "", fmt.Errorf("schema declares x-parent-id on both %q and %q; at most one is allowed", parentProp, name)
			}
			parentProp = name
			parentCollection = target
		}
	}
	return uniqueProps, parentProp, parentCollection, nil
}

// refSuffix is the conventional suffix spec §3 gives standard cross-collection
// references: "$ref": "<collection>.id".
const refSuffix = ".id"

// extractReferences walks the raw (uncompiled) schema's top-level properties
// for the "$ref": "<collection>.id" convention. Raw JSON is used rather than
// the compiled Schema because kaptinlin/jsonschema resolves $ref into schema
// composition rather than preserving it as an inspectable string.
func extractReferences(schemaJSON []byte) (map[string]string, error) {
	var raw struct {
		Properties map[string]struct {
			Ref string `json:"$ref"`
		} `json:"properties"`
	}
	if err := json.Unmarshal(schemaJSON, &raw); err != nil {
		return nil, err
	}
	var refs map[string]string
	for name, prop := range raw.Properties {
		if prop.Ref == "" || !strings.HasSuffix(prop.Ref, refSuffix) {
			continue
		}
		target := strings.TrimSuffix(prop.Ref, refSuffix)
		if target == "" {
			return nil, fmt.Errorf("property %q has an empty $ref target", name)
		}
		if refs == nil {
			refs = make(map[string]string)
		}
		refs[name] = target
	}
	return refs, nil
}

// Validate runs doc through the compiled schema for collection and returns
// a flattened list of failing-pointer/reason pairs. A nil slice with a nil
// error means the document is valid.
func (c *Cache) Validate(collection string, doc map[string]any) ([]ValidationIssue, error) {
	entry, ok := c.Get(collection)
	if !ok {
		return nil, syncerr.New(syncerr.UnknownCollection, fmt.Sprintf("collection %q is not registered", collection))
	}

	result := entry.Compiled.Validate(doc)
	if result.IsValid() {
		return nil, nil
	}
	return collectIssues(result, "/"), nil
}

// collectIssues recursively flattens an EvaluationResult tree into
// ValidationIssues, using each failing node's InstanceLocation as the JSON
// pointer and emitting one issue per error message on that node.
func collectIssues(result *jsonschema.EvaluationResult, fallbackPointer string) []ValidationIssue {
	var issues []ValidationIssue
	if !result.Valid {
		pointer := result.InstanceLocation
		if pointer == "" {
			pointer = fallbackPointer
		}
		for _, e := range result.Errors {
			issues = append(issues, ValidationIssue{Pointer: pointer, Reason: e.Error()})
		}
	}
	for _, detail := range result.Details {
		issues = append(issues, collectIssues(detail, fallbackPointer)...)
	}
	return issues
}
