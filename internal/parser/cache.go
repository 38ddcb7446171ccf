package parser

import "sync"

type cacheKey struct {
	raw   string
	left  string
	right string
}

// Cache memoizes Parse results keyed by the raw identifier and the quote
// characters. It is safe for concurrent use. The zero value is ready to use.
type Cache struct {
	mu     sync.RWMutex
	names  map[cacheKey]Name
	hits   int
	misses int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Parse returns the cached Name for raw, parsing it on first use.
func (c *Cache) Parse(raw string, quotes ...string) Name {
	left, right := quoteChars(quotes)
	key := cacheKey{raw: raw, left: left, right: right}

	c.mu.RLock()
	n, ok := c.names[key]
	c.mu.RUnlock()
	if ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return n
	}

	n = Parse(raw, left, right)
	c.mu.Lock()
	if c.names == nil {
		c.names = make(map[cacheKey]Name)
	}
	c.names[key] = n
	c.misses++
	c.mu.Unlock()
	return n
}

// Len returns the number of cached names.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Stats returns the hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// Clear drops every cached name.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.names = nil
	c.hits, c.misses = 0, 0
	c.mu.Unlock()
}
