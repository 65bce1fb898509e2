// Package version tracks monotonic per-fact-table write counters.
//
// Aggregate queries cannot attribute their results to individual entities,
// so their cache keys fold in the current version of every fact table they
// read. Bumping a table's counter on write makes all prior keys unreachable
// without touching the store; stale entries age out through LRU and TTL.
package version

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Provider holds the counters. The zero value is not usable; call New.
type Provider struct {
	counters sync.Map // table name -> *atomic.Uint64
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) counter(table string) *atomic.Uint64 {
	if c, ok := p.counters.Load(table); ok {
		return c.(*atomic.Uint64)
	}
	c, _ := p.counters.LoadOrStore(table, new(atomic.Uint64))
	return c.(*atomic.Uint64)
}

// Bump advances a table's counter after a write lands and returns the new
// version. Tables never bumped sit at version 0.
func (p *Provider) Bump(table string) uint64 {
	return p.counter(table).Add(1)
}

// Current returns a table's version without modifying it.
func (p *Provider) Current(table string) uint64 {
	if c, ok := p.counters.Load(table); ok {
		return c.(*atomic.Uint64).Load()
	}
	return 0
}

// Component renders the key-derivation component for a set of fact tables:
// "table@version" pairs, sorted by table name, joined with semicolons. An
// empty table set yields the empty string so plain entity queries carry no
// version component at all.
func (p *Provider) Component(tables []string) string {
	if len(tables) == 0 {
		return ""
	}
	parts := make([]string, 0, len(tables))
	for _, t := range tables {
		parts = append(parts, t+"@"+strconv.FormatUint(p.Current(t), 10))
	}
	sort.Strings(parts)
	return strings.Join(parts, ";")
}
