package profile

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/fraiseql/fraiseql-go/internal/cache/track"
	"github.com/fraiseql/fraiseql-go/internal/schema"
)

const testDoc = `
entities:
  - name: User
    view: v_user
  - name: Post
    view: v_post
    id_field: post_id

queries:
  - name: getUser
    return_type: User
    view: v_user
    sql: SELECT data FROM v_user WHERE id = $1
    args: [id]
  - name: listUsers
    return_type: User
    returns_list: true
    view: v_user
    sql: SELECT data FROM v_user
  - name: salesTotals
    return_type: SalesSummary
    view: v_sales
    sql: SELECT data FROM tf_sales
    fact_table: tf_sales
`

func testProfiler(t *testing.T) *Profiler {
	t.Helper()
	s, err := schema.Parse([]byte(testDoc))
	if err != nil {
		t.Fatalf("schema.Parse() error = %v", err)
	}
	return New(s)
}

func rows(docs ...string) []json.RawMessage {
	out := make([]json.RawMessage, len(docs))
	for i, d := range docs {
		out[i] = json.RawMessage(d)
	}
	return out
}

func TestProfile_Precise(t *testing.T) {
	p := testProfiler(t)

	t.Run("uuid identifiers", func(t *testing.T) {
		set, card := p.Profile("getUser", rows(`{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","name":"Alice"}`))
		want := track.Entities(track.EntityRef{Type: "User", ID: "6ba7b810-9dad-11d1-80b4-00c04fd430c8"})
		if diff := cmp.Diff(want, set); diff != "" {
			t.Errorf("Profile() mismatch (-want +got):\n%s", diff)
		}
		if card != Single {
			t.Errorf("cardinality = %v, want Single", card)
		}
	})

	t.Run("integer identifiers", func(t *testing.T) {
		set, card := p.Profile("listUsers", rows(`{"id":1}`, `{"id":2}`))
		want := track.Entities(
			track.EntityRef{Type: "User", ID: "1"},
			track.EntityRef{Type: "User", ID: "2"},
		)
		if diff := cmp.Diff(want, set); diff != "" {
			t.Errorf("Profile() mismatch (-want +got):\n%s", diff)
		}
		if card != List {
			t.Errorf("cardinality = %v, want List", card)
		}
	})

	t.Run("duplicate rows collapse", func(t *testing.T) {
		set, _ := p.Profile("listUsers", rows(`{"id":1}`, `{"id":1}`))
		if len(set.Entities) != 1 {
			t.Errorf("entities = %d, want 1", len(set.Entities))
		}
	})
}

func TestProfile_CoarseFallback(t *testing.T) {
	p := testProfiler(t)

	t.Run("row missing identifier", func(t *testing.T) {
		set, _ := p.Profile("listUsers", rows(`{"id":1}`, `{"name":"no id"}`))
		if !set.Coarse() {
			t.Fatal("a single unattributable row must demote the whole set")
		}
		if diff := cmp.Diff(track.Views("v_user"), set); diff != "" {
			t.Errorf("Profile() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("malformed uuid", func(t *testing.T) {
		set, _ := p.Profile("getUser", rows(`{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430zz"}`))
		if !set.Coarse() {
			t.Error("a malformed UUID-shaped identifier must demote to coarse")
		}
	})

	t.Run("aggregate return type", func(t *testing.T) {
		set, _ := p.Profile("salesTotals", rows(`{"total":1234.5}`))
		if diff := cmp.Diff(track.Views("v_sales"), set); diff != "" {
			t.Errorf("Profile() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("empty result keeps view dependency", func(t *testing.T) {
		set, _ := p.Profile("listUsers", nil)
		if diff := cmp.Diff(track.Views("v_user"), set); diff != "" {
			t.Errorf("Profile() mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("unknown query yields empty set", func(t *testing.T) {
		set, _ := p.Profile("ghost", rows(`{"id":1}`))
		if !set.Empty() {
			t.Errorf("Profile(unknown) = %+v, want empty", set)
		}
	})
}
