package termcache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nyurik/mediawiki-extensions-Wikibase/pkg/types"
)

// DefaultSize is the default maximum number of cached terms.
const DefaultSize = 100_000

type lruEntry struct {
	row       types.TermRow
	expiresAt time.Time
}

// LRU is an in-process Cache bounded by entry count. Each entry expires on
// its own TTL; expired entries are treated as misses and removed lazily.
type LRU struct {
	cache *lru.Cache[Key, lruEntry]
	now   func() time.Time

	// byEntity indexes keys per entity id for Invalidate. Every cached key
	// is indexed; the index may briefly hold keys already removed.
	mu       sync.Mutex
	byEntity map[string]map[Key]struct{}
}

var (
	_ Cache       = (*LRU)(nil)
	_ Invalidator = (*LRU)(nil)
)

// Option configures an LRU.
type Option func(*LRU)

// WithClock replaces time.Now, for tests that need to control expiry.
func WithClock(now func() time.Time) Option {
	return func(c *LRU) { c.now = now }
}

// NewLRU creates an LRU cache holding up to size entries.
func NewLRU(size int, opts ...Option) (*LRU, error) {
	if size <= 0 {
		size = DefaultSize
	}

	c := &LRU{
		now:      time.Now,
		byEntity: map[string]map[Key]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}

	cache, err := lru.NewWithEvict(size, func(key Key, _ lruEntry) {
		c.unindex(key)
	})
	if err != nil {
		return nil, err
	}
	c.cache = cache
	return c, nil
}

// GetMany implements Cache.
func (c *LRU) GetMany(_ context.Context, keys []Key) (map[Key]types.TermRow, error) {
	now := c.now()
	out := make(map[Key]types.TermRow, len(keys))
	for _, key := range keys {
		entry, ok := c.cache.Get(key)
		if !ok {
			continue
		}
		if !now.Before(entry.expiresAt) {
			c.cache.Remove(key)
			continue
		}
		out[key] = entry.row
	}
	return out, nil
}

// SetMany implements Cache. Entries with a non-positive TTL are skipped.
func (c *LRU) SetMany(_ context.Context, entries []Entry) error {
	now := c.now()
	for _, e := range entries {
		if e.TTL <= 0 {
			continue
		}
		c.cache.Add(e.Key, lruEntry{row: e.Row, expiresAt: now.Add(e.TTL)})
		c.index(e.Key)
	}
	return nil
}

// Invalidate drops all cached terms of entityID and returns how many were dropped.
func (c *LRU) Invalidate(entityID string) int {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.byEntity[entityID]))
	for key := range c.byEntity[entityID] {
		keys = append(keys, key)
	}
	c.mu.Unlock()

	n := 0
	for _, key := range keys {
		if c.cache.Remove(key) {
			n++
			continue
		}
		// Removed by a concurrent reader before SetMany indexed it.
		c.unindex(key)
	}
	return n
}

// Len returns the number of entries, including expired ones not yet removed.
func (c *LRU) Len() int {
	return c.cache.Len()
}

// Purge empties the cache.
func (c *LRU) Purge() {
	c.cache.Purge()
}

func (c *LRU) index(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys, ok := c.byEntity[key.EntityID]
	if !ok {
		keys = map[Key]struct{}{}
		c.byEntity[key.EntityID] = keys
	}
	keys[key] = struct{}{}
}

// unindex runs as the eviction callback, after the LRU lock is released. A
// key written again between the removal and the callback stays indexed.
func (c *LRU) unindex(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache.Contains(key) {
		return
	}
	keys := c.byEntity[key.EntityID]
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byEntity, key.EntityID)
	}
}
