// Package profile derives the access set of an executed query: which views
// it read and, when the result shape allows it, which specific entities.
//
// Precise tracking scans each result row for the declared entity's identifier
// field. The invariant is to never under-report: any row the scan cannot
// attribute to a concrete entity demotes the whole access set to the coarse
// view-level form, which the invalidator treats pessimistically.
package profile

import (
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/fraiseql/fraiseql-go/internal/cache/track"
	"github.com/fraiseql/fraiseql-go/internal/schema"
)

// Cardinality classifies a query's result shape. List-shaped queries are more
// likely to need coarse tracking and are individually configurable as
// cacheable or not.
type Cardinality int

const (
	// Single is a query returning at most one row.
	Single Cardinality = iota
	// List is a query returning any number of rows.
	List
)

// Profiler derives access sets from compiled query definitions and result
// payloads.
type Profiler struct {
	schema *schema.Schema
}

// New creates a Profiler over the loaded schema metadata.
func New(s *schema.Schema) *Profiler {
	return &Profiler{schema: s}
}

// Profile determines what a query execution read.
//
// When the query's return type is a declared entity and every result row
// yields an identifier from the entity's ID field, the set is entity-precise.
// Otherwise (aggregates, computed projections, unscannable rows) it falls
// back to the view names the query declares.
func (p *Profiler) Profile(queryName string, rows []json.RawMessage) (track.AccessSet, Cardinality) {
	def, ok := p.schema.Query(queryName)
	if !ok {
		return track.AccessSet{}, Single
	}

	card := Single
	if def.ReturnsList {
		card = List
	}

	coarse := track.AccessSet{}
	if def.View != "" {
		coarse = track.Views(def.View)
	}

	entity, ok := p.schema.Entity(def.ReturnType)
	if !ok {
		// Aggregates and computed projections have no entity declaration.
		return coarse, card
	}

	refs := make([]track.EntityRef, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		id, ok := extractIdentifier(row, entity.IDField)
		if !ok {
			return coarse, card
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, track.EntityRef{Type: entity.Name, ID: id})
	}

	if len(refs) == 0 {
		// An empty result still depends on the view: rows inserted later
		// would change it.
		return coarse, card
	}
	return track.Entities(refs...), card
}

// extractIdentifier pulls the identifier field out of one result row.
// Accepts UUID strings, non-empty scalar strings, and integral numbers.
func extractIdentifier(row json.RawMessage, field string) (string, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(row, &obj); err != nil {
		return "", false
	}
	raw, ok := obj[field]
	if !ok {
		return "", false
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return "", false
		}
		// Identifiers in canonical UUID shape must actually parse; a
		// malformed one demotes the entry to coarse tracking.
		if len(s) == 36 {
			if _, err := uuid.Parse(s); err != nil {
				return "", false
			}
		}
		return s, true
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
	}
	return "", false
}
