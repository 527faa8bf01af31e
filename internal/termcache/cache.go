// Package termcache provides the lookaside cache for term rows.
//
// Entries are keyed by (entity id, language, term kind) and expire a fixed
// TTL after they were written. The cache is shared process-wide and across
// resolver instances; entries are never modified in place, only replaced or
// dropped, so no locking beyond per-call atomicity is required of callers.
package termcache

import (
	"context"
	"strings"
	"time"

	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// DefaultTTL is how long a cached term is trusted without re-fetching.
const DefaultTTL = 60 * time.Second

// Key identifies one cached term.
type Key struct {
	EntityID string
	Language string
	Kind     types.TermKind
}

// KeyFor returns the cache key of a term row.
func KeyFor(row types.TermRow) Key {
	return Key{EntityID: row.EntityID, Language: row.Language, Kind: row.Kind}
}

// String renders the key as "<id>.<lang>.<kind>".
func (k Key) String() string {
	return strings.Join([]string{k.EntityID, k.Language, string(k.Kind)}, ".")
}

// Entry is a row to be cached together with its TTL.
type Entry struct {
	Key Key
	Row types.TermRow
	TTL time.Duration
}

// Cache is the term cache used by the resolver.
type Cache interface {
	// GetMany returns the unexpired rows for keys. Misses are simply absent
	// from the result.
	GetMany(ctx context.Context, keys []Key) (map[Key]types.TermRow, error)

	// SetMany stores entries, each expiring after its own TTL.
	SetMany(ctx context.Context, entries []Entry) error
}

// Invalidator drops cached terms of an entity. It is implemented by caches
// that support write-side invalidation.
type Invalidator interface {
	Invalidate(entityID string) int
}
