package store

import (
	"fmt"
	"sync"
)

// Index is the bidirectional dependency index between cache keys and the
// dependency tokens (entities, types, views) they read.
//
// The forward map answers "which keys must be removed when this token is
// invalidated"; the reverse map makes removal of a key cheap without scanning
// every forward set. Both maps are kept mutually consistent under a single
// mutex: index updates are cheap and happen only on put, remove, and
// invalidate, never on the hot read path.
type Index struct {
	mu      sync.RWMutex
	forward map[string]map[string]struct{} // token -> keys
	reverse map[string]map[string]struct{} // key -> tokens
}

// NewIndex creates an empty dependency index.
func NewIndex() *Index {
	return &Index{
		forward: make(map[string]map[string]struct{}),
		reverse: make(map[string]map[string]struct{}),
	}
}

// Record registers the tokens a key depends on, replacing any previous
// registration for that key.
func (ix *Index) Record(key string, tokens []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.forgetLocked(key)

	if len(tokens) == 0 {
		return
	}

	set := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		set[token] = struct{}{}
		keys, ok := ix.forward[token]
		if !ok {
			keys = make(map[string]struct{})
			ix.forward[token] = keys
		}
		keys[key] = struct{}{}
	}
	ix.reverse[key] = set
}

// Forget removes a key from both directions of the index.
func (ix *Index) Forget(key string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.forgetLocked(key)
}

func (ix *Index) forgetLocked(key string) {
	tokens, ok := ix.reverse[key]
	if !ok {
		return
	}
	for token := range tokens {
		keys := ix.forward[token]
		delete(keys, key)
		if len(keys) == 0 {
			delete(ix.forward, token)
		}
	}
	delete(ix.reverse, key)
}

// KeysFor returns the keys that depend on a token. The fan-out lookup used
// by the invalidation path.
func (ix *Index) KeysFor(token string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set, ok := ix.forward[token]
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	return keys
}

// TokensFor returns the tokens a key was recorded with.
func (ix *Index) TokensFor(key string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	set, ok := ix.reverse[key]
	if !ok {
		return nil
	}
	tokens := make([]string, 0, len(set))
	for token := range set {
		tokens = append(tokens, token)
	}
	return tokens
}

// Len returns the number of keys currently indexed.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.reverse)
}

// Clear drops all edges.
func (ix *Index) Clear() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.forward = make(map[string]map[string]struct{})
	ix.reverse = make(map[string]map[string]struct{})
}

// Verify checks that forward and reverse edges mirror each other exactly.
// Returns the first inconsistency found. Used by tests and by the store's
// self-healing consistency check.
func (ix *Index) Verify() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	for key, tokens := range ix.reverse {
		for token := range tokens {
			if _, ok := ix.forward[token][key]; !ok {
				return fmt.Errorf("index inconsistency: key %s names token %s with no forward edge", key, token)
			}
		}
	}
	for token, keys := range ix.forward {
		for key := range keys {
			if _, ok := ix.reverse[key][token]; !ok {
				return fmt.Errorf("index inconsistency: token %s names key %s with no reverse edge", token, key)
			}
		}
	}
	return nil
}
