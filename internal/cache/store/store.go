// Package store provides the bounded query-result store and its co-located
// dependency index.
//
// The in-memory implementation shards entries across independently locked
// segments so that gets and puts on unrelated keys never contend. Each entry
// carries a TTL (fixed from creation; reads do not slide it) and shards evict
// in least-recently-used order when full, where both reads and inserts count
// as use. Every mutation of a shard updates the dependency index in the same
// logical operation, so no dangling edges accumulate under concurrent churn.
package store

import (
	"container/list"
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fraiseql/fraiseql-go/internal/cache/track"
)

// ResultStore is the capability set the invalidation algorithm and the facade
// depend on. The in-memory Store is the default implementation; a networked
// backend (see the redisstore package) can be swapped in without changing the
// invalidation algorithm.
type ResultStore interface {
	// Get returns the cached value for a key, or false on miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool)
	// Put stores a value together with the dependencies it read.
	Put(ctx context.Context, key string, value []byte, accessed track.AccessSet, ttl time.Duration)
	// Remove deletes a single entry and its dependency edges.
	Remove(ctx context.Context, key string) bool
	// RemoveByToken deletes every entry depending on a token and returns the
	// number removed.
	RemoveByToken(ctx context.Context, token string) int
	// Clear drops all entries.
	Clear(ctx context.Context)
	// Size returns the current entry count.
	Size() int
}

// Config tunes the in-memory store.
type Config struct {
	// MaxEntries bounds the total entry count. Defaults to 10000.
	MaxEntries int
	// Shards is the number of independently locked segments. Defaults to 16.
	// Capacity is divided evenly across shards, so exact global LRU ordering
	// holds when Shards is 1.
	Shards int
	// Now overrides the clock, for deterministic TTL tests. Defaults to
	// time.Now.
	Now func() time.Time
}

const (
	defaultMaxEntries = 10_000
	defaultShards     = 16
)

// Entry is the stored record for one cache key.
type Entry struct {
	Key       string
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time
	HitCount  uint64
	Accessed  track.AccessSet
}

type shardEntry struct {
	Entry
	elem *list.Element
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*shardEntry
	lru     *list.List // least recently used at the front
	cap     int
}

// Store is the sharded in-memory ResultStore.
type Store struct {
	shards []*shard
	index  *Index
	size   atomic.Int64
	now    func() time.Time
}

// New creates a Store, applying defaults for zero-valued config fields.
func New(cfg Config) *Store {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = defaultMaxEntries
	}
	if cfg.Shards <= 0 {
		cfg.Shards = defaultShards
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	perShard := cfg.MaxEntries / cfg.Shards
	if cfg.MaxEntries%cfg.Shards != 0 {
		perShard++
	}
	if perShard < 1 {
		perShard = 1
	}

	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{
			entries: make(map[string]*shardEntry),
			lru:     list.New(),
			cap:     perShard,
		}
	}
	return &Store{
		shards: shards,
		index:  NewIndex(),
		now:    cfg.Now,
	}
}

func (s *Store) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// Get retrieves a value. An entry found expired is removed lazily, together
// with its index edges, before reporting a miss.
func (s *Store) Get(_ context.Context, key string) ([]byte, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return nil, false
	}
	if !e.ExpiresAt.IsZero() && s.now().After(e.ExpiresAt) {
		sh.removeLocked(key, e)
		s.index.Forget(key)
		s.size.Add(-1)
		return nil, false
	}

	sh.lru.MoveToBack(e.elem)
	e.HitCount++
	return e.Value, true
}

// Put inserts or replaces an entry, recording its dependencies in the index
// in the same logical step. When the shard is full the least-recently-used
// entry is evicted first.
func (s *Store) Put(_ context.Context, key string, value []byte, accessed track.AccessSet, ttl time.Duration) {
	now := s.now()
	// Zero TTL disables expiry; the entry leaves through LRU pressure or
	// invalidation only.
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if e, ok := sh.entries[key]; ok {
		e.Value = value
		e.CreatedAt = now
		e.ExpiresAt = expires
		e.HitCount = 0
		e.Accessed = accessed
		sh.lru.MoveToBack(e.elem)
		s.index.Record(key, accessed.Tokens())
		return
	}

	if len(sh.entries) >= sh.cap {
		front := sh.lru.Front()
		if front != nil {
			victim := front.Value.(string)
			if ve, ok := sh.entries[victim]; ok {
				sh.removeLocked(victim, ve)
				s.index.Forget(victim)
				s.size.Add(-1)
			}
		}
	}

	e := &shardEntry{
		Entry: Entry{
			Key:       key,
			Value:     value,
			CreatedAt: now,
			ExpiresAt: expires,
			Accessed:  accessed,
		},
	}
	e.elem = sh.lru.PushBack(key)
	sh.entries[key] = e
	s.size.Add(1)
	s.index.Record(key, accessed.Tokens())
}

// Remove deletes one entry and its index edges.
func (s *Store) Remove(_ context.Context, key string) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return false
	}
	sh.removeLocked(key, e)
	s.index.Forget(key)
	s.size.Add(-1)
	return true
}

// RemoveByToken removes every entry depending on a token.
func (s *Store) RemoveByToken(ctx context.Context, token string) int {
	removed := 0
	for _, key := range s.index.KeysFor(token) {
		if s.Remove(ctx, key) {
			removed++
		}
	}
	return removed
}

// Clear drops every entry and all index edges.
func (s *Store) Clear(_ context.Context) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.entries = make(map[string]*shardEntry)
		sh.lru.Init()
		sh.mu.Unlock()
	}
	s.index.Clear()
	s.size.Store(0)
}

// Size returns the current entry count.
func (s *Store) Size() int {
	return int(s.size.Load())
}

// EvictExpired removes all entries past their TTL. Normally expiry is lazy at
// read time; this sweep exists for periodic housekeeping.
func (s *Store) EvictExpired() int {
	now := s.now()
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt) {
				sh.removeLocked(key, e)
				s.index.Forget(key)
				s.size.Add(-1)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Entry exposes a copy of the stored record, including hit count and the
// recorded access set. Present for metrics and tests.
func (s *Store) Entry(key string) (Entry, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.entries[key]
	if !ok {
		return Entry{}, false
	}
	return e.Entry, true
}

// Index exposes the co-located dependency index.
func (s *Store) Index() *Index {
	return s.index
}

// Verify checks store/index consistency: every stored key has exactly one
// reverse registration and every indexed key exists in the store. Used by
// tests and the facade's self-heal path.
func (s *Store) Verify() error {
	if err := s.index.Verify(); err != nil {
		return err
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, e := range sh.entries {
			if !e.Accessed.Empty() && len(s.index.TokensFor(key)) == 0 {
				sh.mu.Unlock()
				return fmt.Errorf("store entry has no index registration: %s", key)
			}
		}
		sh.mu.Unlock()
	}
	for _, key := range s.indexedKeys() {
		if _, ok := s.Entry(key); !ok {
			return fmt.Errorf("index references key absent from store: %s", key)
		}
	}
	return nil
}

func (s *Store) indexedKeys() []string {
	s.index.mu.RLock()
	defer s.index.mu.RUnlock()
	keys := make([]string, 0, len(s.index.reverse))
	for key := range s.index.reverse {
		keys = append(keys, key)
	}
	return keys
}

func (sh *shard) removeLocked(key string, e *shardEntry) {
	sh.lru.Remove(e.elem)
	delete(sh.entries, key)
}

var _ ResultStore = (*Store)(nil)
