// Package executor orchestrates the read and write paths of compiled
// GraphQL operations around the result cache.
//
// Reads derive a cache key, serve hits directly, and profile misses for
// entity-level dependency tracking before storing. Writes always execute,
// then drive invalidation from the cascade payload the write reports. Cache
// trouble on either path degrades to uncached execution, never to a failed
// request.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fraiseql/fraiseql-go/internal/cache"
	"github.com/fraiseql/fraiseql-go/internal/cache/cascade"
	"github.com/fraiseql/fraiseql-go/internal/cache/keys"
	"github.com/fraiseql/fraiseql-go/internal/cache/profile"
	"github.com/fraiseql/fraiseql-go/internal/cache/track"
	"github.com/fraiseql/fraiseql-go/internal/cache/version"
	"github.com/fraiseql/fraiseql-go/internal/gqlparse"
	"github.com/fraiseql/fraiseql-go/internal/schema"
)

// Adapter is the database boundary. db.Postgres implements it; tests use
// in-memory doubles.
type Adapter interface {
	QueryRows(ctx context.Context, sql string, args []any) ([]json.RawMessage, error)
	ExecReturning(ctx context.Context, sql string, args []any) (json.RawMessage, error)
}

// ErrUnknownOperation marks an operation name absent from the compiled schema.
var ErrUnknownOperation = errors.New("unknown operation")

// Options configures an Executor.
type Options struct {
	DB     Adapter
	Cache  *cache.Cache
	Schema *schema.Schema
	// Versions tracks fact-table write counters. Required when any query
	// declares a fact table with the track strategy.
	Versions *version.Provider
	// CacheListQueries enables caching of list-returning queries. Off by
	// default: lists are invalidation-expensive, single-entity lookups
	// are where the hit rate lives.
	CacheListQueries bool
	// TrackedFactTables opts fact tables into version-keyed caching.
	// Aggregate queries over untracked tables bypass the cache.
	TrackedFactTables []string
	Logger            *slog.Logger
}

// Executor runs compiled operations through the cache.
type Executor struct {
	db        Adapter
	cache     *cache.Cache
	schema    *schema.Schema
	profiler  *profile.Profiler
	versions  *version.Provider
	log       *slog.Logger
	cacheList bool
	tracked   map[string]bool
}

// New builds an Executor. Logger defaults to slog.Default.
func New(opts Options) *Executor {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	if opts.Cache == nil {
		opts.Cache = cache.New(cache.Options{Enabled: false, Logger: log})
	}
	tracked := make(map[string]bool, len(opts.TrackedFactTables))
	for _, t := range opts.TrackedFactTables {
		tracked[t] = true
	}
	return &Executor{
		db:        opts.DB,
		cache:     opts.Cache,
		schema:    opts.Schema,
		profiler:  profile.New(opts.Schema),
		versions:  opts.Versions,
		log:       log,
		cacheList: opts.CacheListQueries,
		tracked:   tracked,
	}
}

// Execute parses a raw GraphQL operation and dispatches it. The operation's
// root field selects the compiled query or mutation; the normalized
// operation text becomes the key identity, so differently spelled copies of
// one operation share cache entries.
func (e *Executor) Execute(ctx context.Context, operation string, vars map[string]any, scope *keys.Scope) (json.RawMessage, error) {
	op, err := gqlparse.Parse(operation)
	if err != nil {
		return nil, err
	}
	switch op.Type {
	case "query":
		return e.executeQuery(ctx, op.RootField(), op.Identity(), vars, scope)
	case "mutation":
		return e.ExecuteMutation(ctx, op.RootField(), vars)
	default:
		return nil, fmt.Errorf("%w: %s operations are not supported", ErrUnknownOperation, op.Type)
	}
}

// ExecuteQuery runs a compiled query by name, keyed on the name alone.
func (e *Executor) ExecuteQuery(ctx context.Context, name string, vars map[string]any, scope *keys.Scope) (json.RawMessage, error) {
	return e.executeQuery(ctx, name, name, vars, scope)
}

func (e *Executor) executeQuery(ctx context.Context, name, identity string, vars map[string]any, scope *keys.Scope) (json.RawMessage, error) {
	def, ok := e.schema.Query(name)
	if !ok {
		return nil, fmt.Errorf("%w: query %s", ErrUnknownOperation, name)
	}

	if !e.cacheable(def) {
		return e.runQuery(ctx, def, vars)
	}

	op := keys.Operation{
		Identity:      identity,
		Public:        def.Public,
		SchemaVersion: e.schema.Version,
	}
	if def.FactTable != "" {
		op.VersionComponent = e.versions.Component([]string{def.FactTable})
	}
	key, err := keys.Derive(op, vars, scope)
	if err != nil {
		// Uncacheable requests (no scope on a non-public query) still
		// execute; they just never touch the cache.
		if errors.Is(err, keys.ErrUncacheable) {
			return e.runQuery(ctx, def, vars)
		}
		e.log.Error("key derivation failed, executing uncached", "query", name, "error", err)
		return e.runQuery(ctx, def, vars)
	}

	value, err := e.cache.GetOrCompute(ctx, key, func(ctx context.Context) ([]byte, track.AccessSet, error) {
		rows, err := e.db.QueryRows(ctx, def.SQL, e.bindArgs(def.Args, vars))
		if err != nil {
			return nil, track.AccessSet{}, err
		}
		accessed, _ := e.profiler.Profile(name, rows)
		return renderResult(def, rows), accessed, nil
	})
	return json.RawMessage(value), err
}

// cacheable applies the static bypass rules: declared-uncacheable queries,
// list queries when list caching is off, and aggregate queries over fact
// tables that are not version-tracked.
func (e *Executor) cacheable(def *schema.Query) bool {
	if !e.cache.Enabled() || def.Uncacheable {
		return false
	}
	if def.ReturnsList && !e.cacheList {
		return false
	}
	if def.FactTable != "" && (e.versions == nil || !e.tracked[def.FactTable]) {
		return false
	}
	return true
}

func (e *Executor) runQuery(ctx context.Context, def *schema.Query, vars map[string]any) (json.RawMessage, error) {
	rows, err := e.db.QueryRows(ctx, def.SQL, e.bindArgs(def.Args, vars))
	if err != nil {
		return nil, err
	}
	return renderResult(def, rows), nil
}

// ExecuteMutation runs a compiled mutation and invalidates behind it. The
// write's outcome is decided when the SQL returns; every step after that
// protects cache consistency and must not fail the request.
func (e *Executor) ExecuteMutation(ctx context.Context, name string, vars map[string]any) (json.RawMessage, error) {
	def, ok := e.schema.Mutation(name)
	if !ok {
		return nil, fmt.Errorf("%w: mutation %s", ErrUnknownOperation, name)
	}

	result, err := e.db.ExecReturning(ctx, def.SQL, e.bindArgs(def.Args, vars))
	if err != nil {
		return nil, err
	}

	if e.versions != nil {
		for _, table := range def.FactTables {
			e.versions.Bump(table)
		}
	}
	e.invalidate(ctx, name, result)
	return result, nil
}

func (e *Executor) invalidate(ctx context.Context, name string, result json.RawMessage) {
	if !e.cache.Enabled() {
		return
	}
	changes, err := cascade.ParseResponse(result)
	if err != nil {
		e.log.Error("cascade payload unreadable, falling back to mutation-name invalidation",
			"mutation", name, "error", err)
		changes = cascade.Changes{}
	}

	if changes.Empty() {
		e.cache.InvalidateMutation(ctx, name)
		return
	}
	if refs := changes.Refs(); len(refs) > 0 {
		e.cache.InvalidateEntities(ctx, refs)
	}
	if len(changes.Views) > 0 {
		e.cache.InvalidateViews(ctx, changes.Views)
	}
}

// bindArgs lays out bound variables in the statement's positional order.
// Missing variables pass through as NULL.
func (e *Executor) bindArgs(names []string, vars map[string]any) []any {
	args := make([]any, len(names))
	for i, n := range names {
		args[i] = vars[n]
	}
	return args
}

var nullResult = json.RawMessage("null")

// renderResult assembles the response document from the row set: the single
// document (or null) for single-entity queries, a JSON array for lists.
func renderResult(def *schema.Query, rows []json.RawMessage) json.RawMessage {
	if !def.ReturnsList {
		if len(rows) == 0 {
			return nullResult
		}
		return rows[0]
	}
	var b bytes.Buffer
	b.WriteByte('[')
	for i, row := range rows {
		if i > 0 {
			b.WriteByte(',')
		}
		b.Write(row)
	}
	b.WriteByte(']')
	return b.Bytes()
}
