package cascade

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/fraiseql/fraiseql-go/internal/cache/store"
	"github.com/fraiseql/fraiseql-go/internal/cache/track"
)

// Change is one affected row reported by a completed write.
type Change struct {
	Type string `json:"__typename"`
	ID   string `json:"id"`
}

// Changes is the structured affected-rows payload of one mutation response.
type Changes struct {
	Updated []Change `json:"updated"`
	Deleted []Change `json:"deleted"`
	// Views carries explicit view-level invalidations for writes whose
	// effects cannot be expressed as entities.
	Views []string `json:"views"`
}

// Empty reports whether the write declared no effects.
func (c Changes) Empty() bool {
	return len(c.Updated) == 0 && len(c.Deleted) == 0 && len(c.Views) == 0
}

// Refs flattens updated and deleted changes into entity references.
func (c Changes) Refs() []track.EntityRef {
	refs := make([]track.EntityRef, 0, len(c.Updated)+len(c.Deleted))
	for _, ch := range c.Updated {
		refs = append(refs, track.EntityRef{Type: ch.Type, ID: ch.ID})
	}
	for _, ch := range c.Deleted {
		refs = append(refs, track.EntityRef{Type: ch.Type, ID: ch.ID})
	}
	return refs
}

type cascadeEnvelope struct {
	Updated []Change `json:"updated"`
	Deleted []Change `json:"deleted"`
	Invalidations struct {
		Views []string `json:"views"`
	} `json:"invalidations"`
}

// ParseResponse extracts the cascade payload from a raw mutation response.
// Both shapes are accepted: a bare {"cascade": {...}} object and the usual
// GraphQL form where the cascade sits under the mutation's field name,
// {"createPost": {"cascade": {...}}}. A response without a cascade yields an
// empty Changes, not an error.
func ParseResponse(raw json.RawMessage) (Changes, error) {
	if len(raw) == 0 {
		return Changes{}, nil
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return Changes{}, err
	}

	if payload, ok := top["cascade"]; ok {
		return parseEnvelope(payload)
	}
	for _, field := range top {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(field, &inner); err != nil {
			continue
		}
		if payload, ok := inner["cascade"]; ok {
			return parseEnvelope(payload)
		}
	}
	return Changes{}, nil
}

func parseEnvelope(payload json.RawMessage) (Changes, error) {
	var env cascadeEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Changes{}, err
	}
	return Changes{
		Updated: env.Updated,
		Deleted: env.Deleted,
		Views:   env.Invalidations.Views,
	}, nil
}

// Reason classifies why an invalidation was requested.
type Reason string

const (
	ReasonWrite        Reason = "write-completed"
	ReasonManualFlush  Reason = "manual-flush"
	ReasonSchemaReload Reason = "schema-reload"
)

// Request is one ephemeral invalidation demand, consumed immediately.
type Request struct {
	Reason Reason
	// Entities carries precise (type, id) pairs from a structured cascade.
	Entities []track.EntityRef
	// Views carries view-level targets.
	Views []string
	// Mutation names the write operation for the legacy path where no
	// structured payload is available; resolved through Metadata.
	Mutation string
}

// Invalidator resolves invalidation requests through the cascade metadata
// and removes matching entries from the result store.
//
// Invalidation never fails the triggering write: problems are logged and
// counted as a cache-consistency risk, not returned.
type Invalidator struct {
	store store.ResultStore
	meta  *Metadata
	log   *slog.Logger

	removed  atomic.Uint64
	requests atomic.Uint64
	byWrite  atomic.Uint64
	byFlush  atomic.Uint64
	byReload atomic.Uint64
}

// NewInvalidator wires an Invalidator to a store and its metadata.
func NewInvalidator(rs store.ResultStore, meta *Metadata, log *slog.Logger) *Invalidator {
	return &Invalidator{store: rs, meta: meta, log: log}
}

// Stats reports cumulative invalidation counts, by reason.
type Stats struct {
	Requests     uint64
	Removed      uint64
	WriteDriven  uint64
	ManualFlush  uint64
	SchemaReload uint64
}

// Stats returns a snapshot of the invalidation counters.
func (inv *Invalidator) Stats() Stats {
	return Stats{
		Requests:     inv.requests.Load(),
		Removed:      inv.removed.Load(),
		WriteDriven:  inv.byWrite.Load(),
		ManualFlush:  inv.byFlush.Load(),
		SchemaReload: inv.byReload.Load(),
	}
}

// Apply consumes one request and returns the number of entries removed.
func (inv *Invalidator) Apply(ctx context.Context, req Request) int {
	inv.requests.Add(1)
	switch req.Reason {
	case ReasonWrite:
		inv.byWrite.Add(1)
	case ReasonManualFlush:
		inv.byFlush.Add(1)
	case ReasonSchemaReload:
		inv.byReload.Add(1)
	}

	if req.Reason == ReasonSchemaReload ||
		(req.Reason == ReasonManualFlush && len(req.Entities) == 0 && len(req.Views) == 0) {
		inv.store.Clear(ctx)
		inv.log.Debug("cache cleared", "reason", string(req.Reason))
		return 0
	}

	removed := 0
	removed += inv.invalidateEntities(ctx, req.Entities)
	removed += inv.invalidateViews(ctx, req.Views)

	if len(req.Entities) == 0 && len(req.Views) == 0 && req.Mutation != "" {
		removed += inv.invalidateMutation(ctx, req.Mutation)
	}

	inv.removed.Add(uint64(removed))
	inv.log.Debug("invalidation applied",
		"reason", string(req.Reason),
		"entities", len(req.Entities),
		"views", len(req.Views),
		"mutation", req.Mutation,
		"removed", removed,
	)
	return removed
}

// invalidateEntities removes entries that read the specific entities, plus
// every coarse entry on the views those entities live in: coarse entries
// cannot be distinguished at entity granularity, so they always go.
func (inv *Invalidator) invalidateEntities(ctx context.Context, refs []track.EntityRef) int {
	removed := 0
	views := make(map[string]struct{})
	for _, ref := range refs {
		removed += inv.store.RemoveByToken(ctx, track.EntityToken(ref))
		if view, ok := inv.meta.ViewOf(ref.Type); ok {
			views[view] = struct{}{}
		} else {
			inv.log.Error("cascade names unknown entity type; possible stale cache entries",
				"type", ref.Type)
		}
	}
	for view := range views {
		removed += inv.store.RemoveByToken(ctx, track.ViewToken(view))
	}
	return removed
}

// invalidateViews removes coarse entries on the views and, since a view-level
// write could have touched any row, every precise entry whose entity types
// the views expose.
func (inv *Invalidator) invalidateViews(ctx context.Context, views []string) int {
	removed := 0
	for _, view := range views {
		removed += inv.store.RemoveByToken(ctx, track.ViewToken(view))
		for _, typ := range inv.meta.EntitiesForView(view) {
			removed += inv.store.RemoveByToken(ctx, track.TypeToken(typ))
		}
	}
	return removed
}

// invalidateMutation is the legacy coarse path: only the write's name is
// known, so every entry touching any entity type the mutation can affect is
// removed. Intentionally over-broad, trading hit rate for safety.
func (inv *Invalidator) invalidateMutation(ctx context.Context, name string) int {
	types := inv.meta.Affects(name)
	if len(types) == 0 {
		inv.log.Error("write completed with no cascade and no metadata; cache may be stale",
			"mutation", name)
		return 0
	}

	removed := 0
	for _, typ := range types {
		removed += inv.store.RemoveByToken(ctx, track.TypeToken(typ))
		if view, ok := inv.meta.ViewOf(typ); ok {
			removed += inv.store.RemoveByToken(ctx, track.ViewToken(view))
		}
	}
	return removed
}
