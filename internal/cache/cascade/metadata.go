// Package cascade maps completed writes to the cache entries they invalidate.
//
// Metadata is built once from the compiled schema and is immutable afterward;
// a schema reload rebuilds it wholesale. The Invalidator consumes the
// structured affected-rows payload a mutation reports (or, on the legacy
// path, just the mutation's name) and issues targeted removals against the
// result store's dependency index.
package cascade

import (
	"sort"

	"github.com/fraiseql/fraiseql-go/internal/schema"
)

// Metadata is the schema-derived write-operation to entity-type mapping,
// with the reverse direction precomputed.
type Metadata struct {
	affects   map[string][]string // mutation name -> entity types
	mutations map[string][]string // entity type -> mutation names
	viewOf    map[string]string   // entity type -> backing view
	byView    map[string][]string // view -> entity types
}

// Build walks the compiled schema's mutation declarations. Called at schema
// load and again, from scratch, on every reload.
func Build(s *schema.Schema) *Metadata {
	m := &Metadata{
		affects:   make(map[string][]string),
		mutations: make(map[string][]string),
		viewOf:    make(map[string]string),
		byView:    make(map[string][]string),
	}
	for _, e := range s.Entities {
		m.viewOf[e.Name] = e.View
		m.byView[e.View] = append(m.byView[e.View], e.Name)
	}
	for _, mut := range s.Mutations {
		m.affects[mut.Name] = append([]string(nil), mut.Affects...)
		for _, typ := range mut.Affects {
			m.mutations[typ] = append(m.mutations[typ], mut.Name)
		}
	}
	for _, lists := range []map[string][]string{m.affects, m.mutations, m.byView} {
		for _, l := range lists {
			sort.Strings(l)
		}
	}
	return m
}

// Affects returns the entity types a mutation can touch.
func (m *Metadata) Affects(mutation string) []string {
	return m.affects[mutation]
}

// MutationsFor returns the mutations that can touch an entity type.
func (m *Metadata) MutationsFor(entityType string) []string {
	return m.mutations[entityType]
}

// ViewOf returns the view backing an entity type.
func (m *Metadata) ViewOf(entityType string) (string, bool) {
	v, ok := m.viewOf[entityType]
	return v, ok
}

// EntitiesForView returns the entity types exposed by a view.
func (m *Metadata) EntitiesForView(view string) []string {
	return m.byView[view]
}
