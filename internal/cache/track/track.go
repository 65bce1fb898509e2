// Package track defines the dependency vocabulary shared by the result store,
// the entity profiler, and the cascade invalidator.
//
// A cached query result depends either on specific entities (precise tracking)
// or on whole views (coarse tracking). Dependencies are addressed in the
// dependency index by string tokens so that fan-out lookups stay O(1) per
// token regardless of how the dependency was recorded.
package track

import (
	"sort"
	"strings"
)

// Token prefixes. A precise entry records one entity token and one type token
// per entity it read; a coarse entry records one view token per view.
const (
	entityPrefix = "entity:"
	typePrefix   = "type:"
	viewPrefix   = "view:"
)

// EntityRef identifies a single row of a logical domain object.
type EntityRef struct {
	Type string // GraphQL type name, e.g. "User"
	ID   string // row identifier, typically a UUID
}

// EntityToken addresses one specific entity in the dependency index.
func EntityToken(ref EntityRef) string {
	return entityPrefix + ref.Type + ":" + ref.ID
}

// TypeToken addresses every precise entry that read any row of a type.
// Used by the coarse (mutation-name) invalidation path.
func TypeToken(entityType string) string {
	return typePrefix + entityType
}

// ViewToken addresses every coarse entry that read a view.
func ViewToken(view string) string {
	return viewPrefix + view
}

// IsViewToken reports whether a token addresses a view.
func IsViewToken(token string) bool {
	return strings.HasPrefix(token, viewPrefix)
}

// AccessSet describes what a cached result read. Exactly one of the two
// forms is populated: Entities when precise extraction succeeded, Views when
// the query's shape forced the coarse fallback.
type AccessSet struct {
	Entities []EntityRef
	Views    []string
}

// Entities builds a precise access set.
func Entities(refs ...EntityRef) AccessSet {
	return AccessSet{Entities: refs}
}

// Views builds a coarse access set.
func Views(names ...string) AccessSet {
	return AccessSet{Views: names}
}

// Coarse reports whether the set was recorded at view granularity.
func (s AccessSet) Coarse() bool {
	return len(s.Views) > 0
}

// Empty reports whether nothing was recorded. Entries with empty access sets
// can only be removed by TTL, eviction, or a full flush.
func (s AccessSet) Empty() bool {
	return len(s.Entities) == 0 && len(s.Views) == 0
}

// Tokens expands the set into deduplicated index tokens, sorted for
// deterministic iteration. Precise entities contribute both their entity
// token and their type token.
func (s AccessSet) Tokens() []string {
	seen := make(map[string]struct{}, 2*len(s.Entities)+len(s.Views))
	for _, ref := range s.Entities {
		seen[EntityToken(ref)] = struct{}{}
		seen[TypeToken(ref.Type)] = struct{}{}
	}
	for _, view := range s.Views {
		seen[ViewToken(view)] = struct{}{}
	}
	tokens := make([]string, 0, len(seen))
	for t := range seen {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
