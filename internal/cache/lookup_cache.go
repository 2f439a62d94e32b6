package cache

import (
	"strings"
	"sync"
)

// LookupCache remembers which storage file holds a path, keyed by the
// normalized path and valued by the store's position in the VFS.
//
// Thread-safe: Uses RWMutex for concurrent access.
type LookupCache struct {
	mu      sync.RWMutex
	entries map[string]int
	maxSize int
	hits    uint64
	misses  uint64
}

// NewLookupCache creates a new lookup cache.
// maxSize: Maximum number of entries (use 0 for unlimited)
func NewLookupCache(maxSize int) *LookupCache {
	return &LookupCache{
		entries: make(map[string]int, 256),
		maxSize: maxSize,
	}
}

// Get returns the store index cached for path.
// Always misses if caching is disabled (CHUNKVFS_CACHE=0).
func (c *LookupCache) Get(path string) (int, bool) {
	if Disabled {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, ok := c.entries[path]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return idx, ok
}

// Set records that path lives in the store at idx.
// No-op if caching is disabled (CHUNKVFS_CACHE=0).
func (c *LookupCache) Set(path string, idx int) {
	if Disabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		// Don't add new entries when at capacity
		if _, exists := c.entries[path]; !exists {
			return
		}
	}
	c.entries[path] = idx
}

// Invalidate clears all entries from the cache.
func (c *LookupCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) > 0 {
		c.entries = make(map[string]int, 256)
	}
}

// InvalidatePath removes a specific path from the cache.
func (c *LookupCache) InvalidatePath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, path)
}

// InvalidatePrefix removes all paths under the given directory.
func (c *LookupCache) InvalidatePrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.HasSuffix(prefix, "/") {
		prefix = prefix + "/"
	}
	for path := range c.entries {
		if strings.HasPrefix(path, prefix) {
			delete(c.entries, path)
		}
	}
}

// Size returns the current number of entries in the cache.
func (c *LookupCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// LookupCacheStats is a snapshot of cache counters.
type LookupCacheStats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
}

// Stats returns current cache statistics.
func (c *LookupCache) Stats() LookupCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return LookupCacheStats{
		Size:    len(c.entries),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}

var _ Invalidator = (*LookupCache)(nil)
