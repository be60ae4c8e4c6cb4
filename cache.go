package enviz

import (
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/golang/snappy"
)

// CacheStats contains counters for the derived-result cache.
type CacheStats struct {
	Entries     int     `json:"entries"`
	MemoryBytes int64   `json:"memory_bytes"`
	HitCount    int64   `json:"hit_count"`
	MissCount   int64   `json:"miss_count"`
	HitRate     float64 `json:"hit_rate"`
	Evictions   int64   `json:"evictions"`
}

type cacheEntry struct {
	key     string
	payload []byte // JSON, snappy-compressed when compression is enabled
	size    int64
}

// resultCache retains derived distance and projection results beyond the
// engines' most-recent slot, so switching back to a recently viewed
// (group, property, window) selection does not recompute. Entries are
// JSON-encoded and optionally snappy-compressed; eviction is LRU by entry
// count and memory budget.
type resultCache struct {
	mu         sync.Mutex
	maxEntries int
	maxMemory  int64
	compress   bool

	entries map[string]*cacheEntry
	order   []string // LRU order, least recent first
	memory  int64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func newResultCache(cfg CacheConfig) *resultCache {
	if !cfg.Enabled {
		return nil
	}
	return &resultCache{
		maxEntries: cfg.MaxEntries,
		maxMemory:  cfg.MaxMemoryBytes,
		compress:   cfg.Compression,
		entries:    make(map[string]*cacheEntry),
	}
}

// get decodes the entry for key into dest and reports whether it was found.
func (c *resultCache) get(key string, dest any) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	entry, ok := c.entries[key]
	if ok {
		c.touch(key)
	}
	c.mu.Unlock()
	if !ok {
		c.misses.Add(1)
		return false
	}

	payload := entry.payload
	if c.compress {
		decoded, err := snappy.Decode(nil, payload)
		if err != nil {
			c.remove(key)
			c.misses.Add(1)
			return false
		}
		payload = decoded
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		c.remove(key)
		c.misses.Add(1)
		return false
	}
	c.hits.Add(1)
	return true
}

// put stores value under key, evicting least-recently-used entries to stay
// within the entry and memory budgets.
func (c *resultCache) put(key string, value any) {
	if c == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if c.compress {
		payload = snappy.Encode(nil, payload)
	}
	entry := &cacheEntry{key: key, payload: payload, size: int64(len(payload))}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		c.memory -= old.size
		c.removeFromOrder(key)
	}
	c.entries[key] = entry
	c.order = append(c.order, key)
	c.memory += entry.size

	for (c.maxEntries > 0 && len(c.entries) > c.maxEntries) ||
		(c.maxMemory > 0 && c.memory > c.maxMemory) {
		if len(c.order) == 0 {
			break
		}
		oldest := c.order[0]
		c.order = c.order[1:]
		if e, ok := c.entries[oldest]; ok {
			c.memory -= e.size
			delete(c.entries, oldest)
			c.evictions.Add(1)
		}
	}
}

// invalidatePrefix drops every entry whose key starts with prefix.
func (c *resultCache) invalidatePrefix(prefix string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if strings.HasPrefix(k, prefix) {
			c.memory -= e.size
			delete(c.entries, k)
			c.removeFromOrder(k)
		}
	}
}

func (c *resultCache) remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.memory -= e.size
		delete(c.entries, key)
		c.removeFromOrder(key)
	}
}

// touch moves key to the most-recent end. Caller holds c.mu.
func (c *resultCache) touch(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

// removeFromOrder deletes key from the LRU order. Caller holds c.mu.
func (c *resultCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// stats returns a snapshot of the cache counters.
func (c *resultCache) stats() CacheStats {
	if c == nil {
		return CacheStats{}
	}
	c.mu.Lock()
	entries := len(c.entries)
	memory := c.memory
	c.mu.Unlock()

	hits, misses := c.hits.Load(), c.misses.Load()
	s := CacheStats{
		Entries:     entries,
		MemoryBytes: memory,
		HitCount:    hits,
		MissCount:   misses,
		Evictions:   c.evictions.Load(),
	}
	if total := hits + misses; total > 0 {
		s.HitRate = float64(hits) / float64(total)
	}
	return s
}
