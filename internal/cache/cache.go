// Package cache is the fail-open facade over the result store, the
// dependency index, and the cascade invalidator. Callers see four verbs:
// read, store, invalidate, clear. A cache-internal problem is never allowed
// to fail the request that triggered it.
package cache

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fraiseql/fraiseql-go/internal/cache/cascade"
	"github.com/fraiseql/fraiseql-go/internal/cache/store"
	"github.com/fraiseql/fraiseql-go/internal/cache/track"
)

// Options configures the facade.
type Options struct {
	// Store is the value backend. Nil selects an in-memory sharded store
	// built from StoreConfig.
	Store store.ResultStore
	// StoreConfig configures the default in-memory store; ignored when
	// Store is set.
	StoreConfig store.Config
	// Metadata drives cascade invalidation. Required.
	Metadata *cascade.Metadata
	// TTL applies to every stored entry. Zero means entries never expire
	// and only leave through LRU pressure or invalidation.
	TTL time.Duration
	// Enabled gates the whole subsystem. A disabled cache computes every
	// request and records no statistics.
	Enabled bool
	Logger  *slog.Logger
}

// Cache is the facade. Safe for concurrent use.
type Cache struct {
	store   store.ResultStore
	inv     *cascade.Invalidator
	log     *slog.Logger
	ttl     time.Duration
	enabled bool
	group   singleflight.Group

	hits          atomic.Uint64
	misses        atomic.Uint64
	stores        atomic.Uint64
	errors        atomic.Uint64
	invalidations atomic.Uint64
}

// New builds the facade. Logger defaults to slog.Default.
func New(opts Options) *Cache {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	rs := opts.Store
	if rs == nil {
		rs = store.New(opts.StoreConfig)
	}
	return &Cache{
		store:   rs,
		inv:     cascade.NewInvalidator(rs, opts.Metadata, log),
		log:     log,
		ttl:     opts.TTL,
		enabled: opts.Enabled,
	}
}

// Enabled reports whether the cache participates in request handling.
func (c *Cache) Enabled() bool { return c.enabled }

// Get returns the cached value for a key. Every call on an enabled cache
// counts as exactly one hit or one miss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if !c.enabled {
		return nil, false
	}
	value, ok := c.store.Get(ctx, key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return value, ok
}

// Put stores a value under a key with its access set. On a disabled cache it
// is a no-op.
func (c *Cache) Put(ctx context.Context, key string, value []byte, accessed track.AccessSet) {
	if !c.enabled {
		return
	}
	c.store.Put(ctx, key, value, accessed, c.ttl)
	c.stores.Add(1)
}

// ComputeFunc produces a value and its access set on a cache miss.
type ComputeFunc func(ctx context.Context) ([]byte, track.AccessSet, error)

// GetOrCompute returns the cached value or computes and stores it. Concurrent
// misses on the same key are coalesced into a single compute; the callers
// share its result. Compute errors propagate and nothing is stored.
func (c *Cache) GetOrCompute(ctx context.Context, key string, compute ComputeFunc) ([]byte, error) {
	if !c.enabled {
		value, _, err := compute(ctx)
		return value, err
	}
	if value, ok := c.Get(ctx, key); ok {
		return value, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		// A coalesced caller may arrive after the winner stored.
		if value, ok := c.store.Get(ctx, key); ok {
			return value, nil
		}
		value, accessed, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		c.store.Put(ctx, key, value, accessed, c.ttl)
		c.stores.Add(1)
		return value, nil
	})
	if err != nil {
		c.errors.Add(1)
		return nil, err
	}
	return result.([]byte), nil
}

// InvalidateEntities removes every entry that read any of the given entities,
// plus coarse entries on their views.
func (c *Cache) InvalidateEntities(ctx context.Context, refs []track.EntityRef) int {
	if !c.enabled {
		return 0
	}
	n := c.inv.Apply(ctx, cascade.Request{Reason: cascade.ReasonWrite, Entities: refs})
	c.invalidations.Add(uint64(n))
	return n
}

// InvalidateViews removes every entry attributed to the given views.
func (c *Cache) InvalidateViews(ctx context.Context, views []string) int {
	if !c.enabled {
		return 0
	}
	n := c.inv.Apply(ctx, cascade.Request{Reason: cascade.ReasonWrite, Views: views})
	c.invalidations.Add(uint64(n))
	return n
}

// InvalidateMutation is the coarse path for writes that report no structured
// cascade: everything the named mutation could have affected is removed.
func (c *Cache) InvalidateMutation(ctx context.Context, name string) int {
	if !c.enabled {
		return 0
	}
	n := c.inv.Apply(ctx, cascade.Request{Reason: cascade.ReasonWrite, Mutation: name})
	c.invalidations.Add(uint64(n))
	return n
}

// Clear drops every entry, as on manual flush or schema reload.
func (c *Cache) Clear(ctx context.Context) {
	if !c.enabled {
		return
	}
	c.inv.Apply(ctx, cascade.Request{Reason: cascade.ReasonManualFlush})
}

// Size returns the live entry count.
func (c *Cache) Size() int {
	return c.store.Size()
}
