package normalizer

import (
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Entry is an immutable cached resolution.
type Entry struct {
	Canonical string `json:"canonical"`
	Stage     string `json:"stage"`
}

// Stats is the operator view of the cache.
type Stats struct {
	Size   int      `json:"cache_size"`
	Hits   int64    `json:"hits"`
	Misses int64    `json:"misses"`
	Keys   []string `json:"cached_items"`
}

// Cache maps (raw input, category) to a resolution for the process lifetime.
// There is no TTL; entries go away only through Clear.
type Cache struct {
	entries sync.Map // string -> Entry
	hits    atomic.Int64
	misses  atomic.Int64
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

func cacheKey(raw, category string) string {
	return category + ":" + strings.ToLower(strings.TrimSpace(raw))
}

// Get returns the cached entry, counting the lookup.
func (c *Cache) Get(raw, category string) (Entry, bool) {
	v, ok := c.entries.Load(cacheKey(raw, category))
	if !ok {
		c.misses.Add(1)
		return Entry{}, false
	}
	c.hits.Add(1)
	return v.(Entry), true
}

// Put stores an entry. An existing entry is kept, the same key always resolves the same way.
func (c *Cache) Put(raw, category string, e Entry) {
	c.entries.LoadOrStore(cacheKey(raw, category), e)
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.entries.Clear()
	c.hits.Store(0)
	c.misses.Store(0)
}

// Stats returns a snapshot with keys sorted.
func (c *Cache) Stats() Stats {
	s := Stats{Hits: c.hits.Load(), Misses: c.misses.Load(), Keys: []string{}}
	c.entries.Range(func(k, _ any) bool {
		s.Keys = append(s.Keys, k.(string))
		return true
	})
	slices.Sort(s.Keys)
	s.Size = len(s.Keys)
	return s
}
