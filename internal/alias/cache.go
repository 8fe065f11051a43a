package alias

import "sync"

// Cache memoizes Load results of a Store until Reload. Misses are cached too.
type Cache struct {
	store Store

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	set Set
	ok  bool
}

func NewCache(store Store) *Cache {
	return &Cache{store: store, entries: map[string]cacheEntry{}}
}

func (c *Cache) Load(name string) (Set, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, hit := c.entries[name]; hit {
		return e.set, e.ok, nil
	}
	set, ok, err := c.store.Load(name)
	if err != nil {
		return nil, false, err
	}
	c.entries[name] = cacheEntry{set: set, ok: ok}
	return set, ok, nil
}

func (c *Cache) Reload() {
	c.mu.Lock()
	c.entries = map[string]cacheEntry{}
	c.mu.Unlock()
}
