// Package redisstore keeps cached values in Redis while the dependency index
// stays in-process. The invalidation algorithm is unchanged from the memory
// backend; only value storage moves over the network.
//
// Redis failures never surface: a failed read is a miss, a failed write
// leaves the entry uncached. The worst outcome of an unreachable Redis is a
// cold cache, never a wrong answer.
package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fraiseql/fraiseql-go/internal/cache/store"
	"github.com/fraiseql/fraiseql-go/internal/cache/track"
)

// Store implements store.ResultStore over a Redis client.
type Store struct {
	client redis.Cmdable
	prefix string
	index  *store.Index
	log    *slog.Logger
}

var _ store.ResultStore = (*Store)(nil)

// New wires a Store to a client. Every Redis key is namespaced under prefix.
func New(client redis.Cmdable, prefix string, log *slog.Logger) *Store {
	if log == nil {
		log = slog.Default()
	}
	return &Store{
		client: client,
		prefix: prefix,
		index:  store.NewIndex(),
		log:    log,
	}
}

func (s *Store) redisKey(key string) string {
	return s.prefix + key
}

// Get returns the value for a key. A Redis error or an expired entry is a
// miss; expiry also drops the key's stale index edges.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := s.client.Get(ctx, s.redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.index.Forget(key)
			return nil, false
		}
		s.log.Error("redis get failed", "key", key, "error", err)
		return nil, false
	}
	return value, true
}

// Put stores a value and records its dependency tokens. An index entry with
// no backing value is harmless (Get self-heals it); a value with no index
// entry would be uninvalidatable, so the index is recorded only after the
// value lands.
func (s *Store) Put(ctx context.Context, key string, value []byte, accessed track.AccessSet, ttl time.Duration) {
	if err := s.client.Set(ctx, s.redisKey(key), value, ttl).Err(); err != nil {
		s.log.Error("redis set failed", "key", key, "error", err)
		s.index.Forget(key)
		return
	}
	s.index.Record(key, accessed.Tokens())
}

// Remove deletes one entry. Reports whether Redis held it.
func (s *Store) Remove(ctx context.Context, key string) bool {
	s.index.Forget(key)
	n, err := s.client.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		s.log.Error("redis del failed", "key", key, "error", err)
		return false
	}
	return n > 0
}

// RemoveByToken deletes every entry that recorded the token.
func (s *Store) RemoveByToken(ctx context.Context, token string) int {
	keys := s.index.KeysFor(token)
	if len(keys) == 0 {
		return 0
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		s.index.Forget(k)
		full[i] = s.redisKey(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		s.log.Error("redis del failed", "token", token, "error", err)
	}
	return len(keys)
}

// Clear removes every entry under the store's prefix, scanning in batches so
// a large cache does not block the server.
func (s *Store) Clear(ctx context.Context) {
	s.index.Clear()

	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			s.log.Error("redis scan failed", "error", err)
			return
		}
		if len(batch) > 0 {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				s.log.Error("redis del failed", "error", err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// Size counts entries under the store's prefix.
func (s *Store) Size() int {
	ctx := context.Background()
	var cursor uint64
	total := 0
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			s.log.Error("redis scan failed", "error", err)
			return 0
		}
		total += len(batch)
		cursor = next
		if cursor == 0 {
			return total
		}
	}
}

// Index exposes the in-process dependency index, for consistency checks.
func (s *Store) Index() *store.Index {
	return s.index
}
