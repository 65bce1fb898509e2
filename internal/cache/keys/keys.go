// Package keys derives cache keys for query results.
//
// Key derivation is security critical: two requests that could receive
// different authorized result sets must never share a key. Keys therefore
// fold in the caller's security scope alongside the operation identity, the
// canonicalized bound variables, the compiled schema version, and an optional
// fact-table version component. When the scope cannot be determined and the
// operation is not explicitly public, derivation fails with ErrUncacheable
// rather than producing a degraded key.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrUncacheable signals that no safe key exists for the request.
var ErrUncacheable = errors.New("request is uncacheable: security scope missing")

// Scope is the subset of caller identity that can change which rows a query
// is allowed to see.
type Scope struct {
	UserID   string
	TenantID string
	Roles    []string
}

// descriptor renders the scope deterministically; role order is irrelevant.
func (s Scope) descriptor() string {
	roles := make([]string, len(s.Roles))
	copy(roles, s.Roles)
	sort.Strings(roles)
	return "user=" + s.UserID + ";tenant=" + s.TenantID + ";roles=" + strings.Join(roles, ",")
}

// Operation identifies a compiled query for key derivation.
type Operation struct {
	// Identity is the normalized operation text or the persisted-operation
	// identifier.
	Identity string
	// Public marks operations whose results do not vary by caller; only
	// these may be cached without a scope.
	Public bool
	// SchemaVersion is the compiled schema's version hash. Schema reloads
	// change it, implicitly invalidating every cached result.
	SchemaVersion string
	// VersionComponent carries a fact-table version for aggregate queries
	// that opt into version-based invalidation. Empty otherwise.
	VersionComponent string
}

// Derive produces the cache key for an operation, its bound variables, and
// the caller's scope. Deterministic and independent of map iteration order.
func Derive(op Operation, vars map[string]any, scope *Scope) (string, error) {
	if scope == nil && !op.Public {
		return "", ErrUncacheable
	}

	canonical, err := CanonicalVariables(vars)
	if err != nil {
		return "", fmt.Errorf("canonicalize variables: %w", err)
	}

	var scopePart string
	if scope != nil {
		scopePart = scope.descriptor()
	}

	h := sha256.New()
	for _, part := range []string{op.Identity, canonical, scopePart, op.SchemaVersion, op.VersionComponent} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// CanonicalVariables renders a variable map in a stable textual form: object
// keys sorted, numbers normalized so that equal values in different lexical
// forms (1, 1.0, 1.00) encode identically.
func CanonicalVariables(vars map[string]any) (string, error) {
	var b strings.Builder
	if err := writeCanonical(&b, vars); err != nil {
		return "", err
	}
	return b.String(), nil
}

func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case nil:
		b.WriteString("null")
	case bool:
		b.WriteString(strconv.FormatBool(val))
	case string:
		b.WriteString(strconv.Quote(val))
	case json.Number:
		d, err := decimal.NewFromString(val.String())
		if err != nil {
			return fmt.Errorf("invalid number %q: %w", val, err)
		}
		b.WriteString(d.String())
	case float64:
		b.WriteString(decimal.NewFromFloat(val).String())
	case int:
		b.WriteString(decimal.NewFromInt(int64(val)).String())
	case int64:
		b.WriteString(decimal.NewFromInt(val).String())
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
	case map[string]any:
		names := make([]string, 0, len(val))
		for name := range val {
			names = append(names, name)
		}
		sort.Strings(names)
		b.WriteByte('{')
		for i, name := range names {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.Quote(name))
			b.WriteByte(':')
			if err := writeCanonical(b, val[name]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	default:
		// Uncommon variable types round-trip through encoding/json to reach
		// one of the cases above.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("unsupported variable type %T: %w", val, err)
		}
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.UseNumber()
		var generic any
		if err := dec.Decode(&generic); err != nil {
			return fmt.Errorf("unsupported variable type %T: %w", val, err)
		}
		return writeCanonical(b, generic)
	}
	return nil
}
