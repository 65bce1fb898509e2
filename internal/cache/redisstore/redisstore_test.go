package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/fraiseql/fraiseql-go/internal/cache/track"
	"github.com/fraiseql/fraiseql-go/internal/logging"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, "fraiseql:", logging.Nop()), mr
}

func TestRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if _, ok := s.Get(ctx, "k1"); ok {
		t.Fatal("hit on empty store")
	}
	s.Put(ctx, "k1", []byte(`{"id":"u1"}`), track.Views("v_user"), 0)
	got, ok := s.Get(ctx, "k1")
	if !ok || string(got) != `{"id":"u1"}` {
		t.Fatalf("Get = %q, %v", got, ok)
	}
	if s.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", s.Size())
	}
}

func TestTTLExpiry(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	s.Put(ctx, "k1", []byte("v"), track.Views("v_user"), time.Minute)
	mr.FastForward(2 * time.Minute)

	if _, ok := s.Get(ctx, "k1"); ok {
		t.Fatal("hit after TTL elapsed")
	}
	// Expiry must also clear the key's index edges.
	if keys := s.Index().KeysFor(track.ViewToken("v_user")); len(keys) != 0 {
		t.Fatalf("index still holds %v after expiry", keys)
	}
}

func TestRemove(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Put(ctx, "k1", []byte("v"), track.Views("v_user"), 0)
	if !s.Remove(ctx, "k1") {
		t.Fatal("Remove = false for present key")
	}
	if s.Remove(ctx, "k1") {
		t.Fatal("Remove = true for absent key")
	}
}

func TestRemoveByToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	u1 := track.EntityRef{Type: "User", ID: "u1"}
	s.Put(ctx, "k-u1", []byte("a"), track.Entities(u1), 0)
	s.Put(ctx, "k-u1-posts", []byte("b"), track.Entities(u1, track.EntityRef{Type: "Post", ID: "p1"}), 0)
	s.Put(ctx, "k-u2", []byte("c"), track.Entities(track.EntityRef{Type: "User", ID: "u2"}), 0)

	if n := s.RemoveByToken(ctx, track.EntityToken(u1)); n != 2 {
		t.Fatalf("removed = %d, want 2", n)
	}
	if _, ok := s.Get(ctx, "k-u1"); ok {
		t.Error("k-u1 survived")
	}
	if _, ok := s.Get(ctx, "k-u1-posts"); ok {
		t.Error("k-u1-posts survived")
	}
	if _, ok := s.Get(ctx, "k-u2"); !ok {
		t.Error("unrelated entry removed")
	}
}

func TestRemoveByTokenUnknown(t *testing.T) {
	s, _ := newTestStore(t)
	if n := s.RemoveByToken(context.Background(), track.TypeToken("Ghost")); n != 0 {
		t.Fatalf("removed = %d, want 0", n)
	}
}

func TestPutReplacesDependencies(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Put(ctx, "k1", []byte("a"), track.Entities(track.EntityRef{Type: "User", ID: "u1"}), 0)
	s.Put(ctx, "k1", []byte("b"), track.Entities(track.EntityRef{Type: "User", ID: "u2"}), 0)

	if n := s.RemoveByToken(ctx, track.EntityToken(track.EntityRef{Type: "User", ID: "u1"})); n != 0 {
		t.Fatalf("stale token still removed %d entries", n)
	}
	if _, ok := s.Get(ctx, "k1"); !ok {
		t.Fatal("entry lost after dependency replacement")
	}
}

func TestClear(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Put(ctx, "k1", []byte("a"), track.Views("v_user"), 0)
	s.Put(ctx, "k2", []byte("b"), track.Views("v_post"), 0)
	s.Clear(ctx)

	if s.Size() != 0 {
		t.Fatalf("Size() = %d after Clear, want 0", s.Size())
	}
	if s.Index().Len() != 0 {
		t.Fatalf("index Len() = %d after Clear, want 0", s.Index().Len())
	}
}

func TestClearRespectsPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := New(client, "fraiseql:", logging.Nop())
	ctx := context.Background()

	// A neighbor sharing the database must survive our flush.
	mr.Set("other:k", "v")
	s.Put(ctx, "k1", []byte("a"), track.Views("v_user"), 0)
	s.Clear(ctx)

	if !mr.Exists("other:k") {
		t.Fatal("Clear removed a key outside the store's prefix")
	}
}

func TestUnreachableRedisFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	s := New(client, "fraiseql:", logging.Nop())
	ctx := context.Background()

	mr.Close()

	s.Put(ctx, "k1", []byte("v"), track.Views("v_user"), 0)
	if _, ok := s.Get(ctx, "k1"); ok {
		t.Fatal("hit against a dead server")
	}
	// A failed Put must not leave an index edge for an unstored value.
	if keys := s.Index().KeysFor(track.ViewToken("v_user")); len(keys) != 0 {
		t.Fatalf("index holds %v after failed store", keys)
	}
}
