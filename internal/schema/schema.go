// Package schema loads the compiled-schema metadata the cache subsystem
// consumes: entity declarations (type, backing view, identifier field),
// compiled query definitions, and mutation definitions with the entity types
// they affect. The metadata is a YAML document produced by schema
// compilation; this package only reads it.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Entity declares a logical domain object and the view its rows live in.
type Entity struct {
	Name    string `yaml:"name"`
	View    string `yaml:"view"`
	IDField string `yaml:"id_field"` // defaults to "id"
}

// Query is a compiled read operation: pre-planned SQL over a single view.
type Query struct {
	Name        string   `yaml:"name"`
	ReturnType  string   `yaml:"return_type"`
	ReturnsList bool     `yaml:"returns_list"`
	View        string   `yaml:"view"`
	SQL         string   `yaml:"sql"`
	Args        []string `yaml:"args"` // variable names in positional order
	FactTable   string   `yaml:"fact_table,omitempty"`
	Public      bool     `yaml:"public,omitempty"`
	Uncacheable bool     `yaml:"uncacheable,omitempty"`
}

// Mutation is a compiled write operation and the entity types it can affect.
type Mutation struct {
	Name       string   `yaml:"name"`
	SQL        string   `yaml:"sql"`
	Args       []string `yaml:"args"`
	Affects    []string `yaml:"affects"`
	FactTables []string `yaml:"fact_tables,omitempty"`
}

// Schema is the loaded metadata document plus lookup tables.
type Schema struct {
	Entities  []Entity   `yaml:"entities"`
	Queries   []Query    `yaml:"queries"`
	Mutations []Mutation `yaml:"mutations"`

	// Version is the content hash of the document. It changes on every
	// schema reload and is folded into every cache key.
	Version string `yaml:"-"`

	entities  map[string]*Entity
	queries   map[string]*Query
	mutations map[string]*Mutation
	byView    map[string][]string // view -> entity type names
}

// Load reads and parses a schema metadata file.
func Load(path string) (*Schema, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes, defaults, validates, and indexes a schema document.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse schema metadata: %w", err)
	}

	hash := sha256.Sum256(data)
	s.Version = hex.EncodeToString(hash[:16])

	s.entities = make(map[string]*Entity, len(s.Entities))
	s.byView = make(map[string][]string)
	for i := range s.Entities {
		e := &s.Entities[i]
		if e.Name == "" || e.View == "" {
			return nil, fmt.Errorf("entity %d: name and view are required", i)
		}
		if e.IDField == "" {
			e.IDField = "id"
		}
		if _, dup := s.entities[e.Name]; dup {
			return nil, fmt.Errorf("duplicate entity %q", e.Name)
		}
		s.entities[e.Name] = e
		s.byView[e.View] = append(s.byView[e.View], e.Name)
	}

	s.queries = make(map[string]*Query, len(s.Queries))
	for i := range s.Queries {
		q := &s.Queries[i]
		if q.Name == "" || q.SQL == "" {
			return nil, fmt.Errorf("query %d: name and sql are required", i)
		}
		if _, dup := s.queries[q.Name]; dup {
			return nil, fmt.Errorf("duplicate query %q", q.Name)
		}
		s.queries[q.Name] = q
	}

	s.mutations = make(map[string]*Mutation, len(s.Mutations))
	for i := range s.Mutations {
		m := &s.Mutations[i]
		if m.Name == "" || m.SQL == "" {
			return nil, fmt.Errorf("mutation %d: name and sql are required", i)
		}
		if _, dup := s.mutations[m.Name]; dup {
			return nil, fmt.Errorf("duplicate mutation %q", m.Name)
		}
		for _, typ := range m.Affects {
			if _, ok := s.entities[typ]; !ok {
				return nil, fmt.Errorf("mutation %q affects unknown entity %q", m.Name, typ)
			}
		}
		s.mutations[m.Name] = m
	}

	return &s, nil
}

// Query looks up a compiled query definition by name.
func (s *Schema) Query(name string) (*Query, bool) {
	q, ok := s.queries[name]
	return q, ok
}

// Mutation looks up a compiled mutation definition by name.
func (s *Schema) Mutation(name string) (*Mutation, bool) {
	m, ok := s.mutations[name]
	return m, ok
}

// Entity looks up an entity declaration by type name.
func (s *Schema) Entity(name string) (*Entity, bool) {
	e, ok := s.entities[name]
	return e, ok
}

// ViewOf returns the view backing an entity type.
func (s *Schema) ViewOf(entityType string) (string, bool) {
	e, ok := s.entities[entityType]
	if !ok {
		return "", false
	}
	return e.View, true
}

// EntitiesForView returns the entity types whose rows a view exposes.
func (s *Schema) EntitiesForView(view string) []string {
	return s.byView[view]
}
