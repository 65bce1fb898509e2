// End-to-end exercise of the cached executor against a real database: reads
// populate the cache, a write's cascade payload invalidates exactly the
// entries it should.
package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/fraiseql/fraiseql-go/internal/cache"
	"github.com/fraiseql/fraiseql-go/internal/cache/cascade"
	"github.com/fraiseql/fraiseql-go/internal/cache/keys"
	"github.com/fraiseql/fraiseql-go/internal/cache/store"
	"github.com/fraiseql/fraiseql-go/internal/executor"
	"github.com/fraiseql/fraiseql-go/internal/logging"
	"github.com/fraiseql/fraiseql-go/internal/schema"
)

const testSchema = `
entities:
  - name: User
    view: v_user
queries:
  - name: getUser
    return_type: User
    view: v_user
    sql: SELECT data FROM v_user WHERE id = ?
    args: [id]
  - name: listUsers
    return_type: User
    returns_list: true
    view: v_user
    sql: SELECT data FROM v_user ORDER BY id
mutations:
  - name: renameUser
    sql: >
      UPDATE users SET name = ? WHERE id = ?
      RETURNING json_object('renameUser', json_object(
        'user', json_object('id', id, 'name', name),
        'cascade', json_object('updated', json_array(
          json_object('__typename', 'User', 'id', id)))))
    args: [name, id]
    affects: [User]
  - name: deleteAllUsers
    sql: DELETE FROM users
    affects: [User]
`

// sqliteAdapter runs compiled SQL over database/sql, the same contract the
// pgx adapter fulfils in production.
type sqliteAdapter struct {
	db *sql.DB
}

func (a *sqliteAdapter) QueryRows(ctx context.Context, query string, args []any) ([]json.RawMessage, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []json.RawMessage
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		out = append(out, json.RawMessage(doc))
	}
	return out, rows.Err()
}

func (a *sqliteAdapter) ExecReturning(ctx context.Context, query string, args []any) (json.RawMessage, error) {
	var doc []byte
	err := a.db.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(doc), nil
}

func setup(t *testing.T) (*executor.Executor, *sql.DB, *cache.Cache) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ddl := []string{
		`CREATE TABLE users (id TEXT PRIMARY KEY, name TEXT NOT NULL)`,
		`CREATE VIEW v_user AS SELECT id, json_object('id', id, 'name', name) AS data FROM users`,
		`INSERT INTO users (id, name) VALUES ('u1', 'Ada'), ('u2', 'Grace')`,
	}
	for _, stmt := range ddl {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}

	s, err := schema.Parse([]byte(testSchema))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	c := cache.New(cache.Options{
		StoreConfig: store.Config{MaxEntries: 128, Shards: 1},
		Metadata:    cascade.Build(s),
		Enabled:     true,
		Logger:      logging.Nop(),
	})
	e := executor.New(executor.Options{
		DB:     &sqliteAdapter{db: db},
		Cache:  c,
		Schema: s,
		Logger: logging.Nop(),
	})
	return e, db, c
}

func scope() *keys.Scope {
	return &keys.Scope{UserID: "tester", TenantID: "t1"}
}

func TestReadsAreServedFromCache(t *testing.T) {
	e, db, c := setup(t)
	ctx := context.Background()
	vars := map[string]any{"id": "u1"}

	got, err := e.ExecuteQuery(ctx, "getUser", vars, scope())
	if err != nil {
		t.Fatalf("ExecuteQuery: %v", err)
	}
	if string(got) != `{"id":"u1","name":"Ada"}` {
		t.Fatalf("result = %s", got)
	}

	// Change the row behind the cache's back; the stale cached document
	// proves the second read never reached the database.
	if _, err := db.Exec(`UPDATE users SET name = 'Changed' WHERE id = 'u1'`); err != nil {
		t.Fatalf("raw update: %v", err)
	}
	got, err = e.ExecuteQuery(ctx, "getUser", vars, scope())
	if err != nil {
		t.Fatalf("ExecuteQuery (cached): %v", err)
	}
	if string(got) != `{"id":"u1","name":"Ada"}` {
		t.Fatalf("second read = %s, want the cached document", got)
	}
	if m := c.Metrics(); m.Hits != 1 || m.Misses != 1 {
		t.Errorf("metrics = %+v, want 1 hit and 1 miss", m)
	}
}

func TestMutationCascadeInvalidatesItsEntity(t *testing.T) {
	e, _, c := setup(t)
	ctx := context.Background()

	// Warm both users.
	if _, err := e.ExecuteQuery(ctx, "getUser", map[string]any{"id": "u1"}, scope()); err != nil {
		t.Fatalf("warm u1: %v", err)
	}
	if _, err := e.ExecuteQuery(ctx, "getUser", map[string]any{"id": "u2"}, scope()); err != nil {
		t.Fatalf("warm u2: %v", err)
	}

	result, err := e.ExecuteMutation(ctx, "renameUser", map[string]any{"id": "u1", "name": "Augusta"})
	if err != nil {
		t.Fatalf("ExecuteMutation: %v", err)
	}
	changes, err := cascade.ParseResponse(result)
	if err != nil || len(changes.Updated) != 1 {
		t.Fatalf("cascade = %+v, err %v", changes, err)
	}

	got, err := e.ExecuteQuery(ctx, "getUser", map[string]any{"id": "u1"}, scope())
	if err != nil {
		t.Fatalf("re-read u1: %v", err)
	}
	if string(got) != `{"id":"u1","name":"Augusta"}` {
		t.Fatalf("u1 after rename = %s", got)
	}

	// u2 was untouched by the cascade; its entry must still be served
	// from the cache.
	before := c.Metrics().Hits
	if _, err := e.ExecuteQuery(ctx, "getUser", map[string]any{"id": "u2"}, scope()); err != nil {
		t.Fatalf("re-read u2: %v", err)
	}
	if c.Metrics().Hits != before+1 {
		t.Error("u2 entry was invalidated by an unrelated cascade")
	}
}

func TestMutationWithoutCascadeInvalidatesByName(t *testing.T) {
	e, _, c := setup(t)
	ctx := context.Background()

	if _, err := e.ExecuteQuery(ctx, "getUser", map[string]any{"id": "u1"}, scope()); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if c.Size() != 1 {
		t.Fatalf("Size() = %d after warm, want 1", c.Size())
	}

	// deleteAllUsers returns no row and thus no cascade; the mutation
	// name alone must clear every User entry.
	if _, err := e.ExecuteMutation(ctx, "deleteAllUsers", nil); err != nil {
		t.Fatalf("ExecuteMutation: %v", err)
	}
	if c.Size() != 0 {
		t.Fatalf("Size() = %d after coarse invalidation, want 0", c.Size())
	}

	got, err := e.ExecuteQuery(ctx, "getUser", map[string]any{"id": "u1"}, scope())
	if err != nil {
		t.Fatalf("re-read: %v", err)
	}
	if string(got) != "null" {
		t.Fatalf("deleted user read = %s, want null", got)
	}
}

func TestListQueryReflectsWritesImmediately(t *testing.T) {
	e, db, _ := setup(t)
	ctx := context.Background()

	got, err := e.ExecuteQuery(ctx, "listUsers", nil, scope())
	if err != nil {
		t.Fatalf("listUsers: %v", err)
	}
	if string(got) != `[{"id":"u1","name":"Ada"},{"id":"u2","name":"Grace"}]` {
		t.Fatalf("list = %s", got)
	}

	// Lists are uncached by default, so even an out-of-band write shows
	// up on the next read.
	if _, err := db.Exec(`INSERT INTO users (id, name) VALUES ('u3', 'Edsger')`); err != nil {
		t.Fatalf("raw insert: %v", err)
	}
	got, err = e.ExecuteQuery(ctx, "listUsers", nil, scope())
	if err != nil {
		t.Fatalf("listUsers again: %v", err)
	}
	if string(got) != `[{"id":"u1","name":"Ada"},{"id":"u2","name":"Grace"},{"id":"u3","name":"Edsger"}]` {
		t.Fatalf("list after insert = %s", got)
	}
}
