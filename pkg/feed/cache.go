package feed

import "sync"

// Cache is the ordered, deduplicated store of posts. Insertion order is
// feed rank order and is preserved across upserts. All reads return copies;
// a live entry never escapes the lock.
type Cache struct {
	mu         sync.RWMutex
	posts      map[string]Post
	order      []string
	generation uint64
}

// NewCache returns an empty cache at generation zero.
func NewCache() *Cache {
	return &Cache{posts: make(map[string]Post)}
}

// Upsert merges posts by identity. An incoming post whose revision is not
// newer than the cached one is discarded: last writer wins is governed by
// revision, not arrival order, because responses may arrive out of order.
// Returns the number of entries accepted.
func (c *Cache) Upsert(posts []Post) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	accepted := 0
	for _, p := range posts {
		if p.ID == "" {
			continue
		}
		cached, ok := c.posts[p.ID]
		if !ok {
			c.posts[p.ID] = p
			c.order = append(c.order, p.ID)
			accepted++
			continue
		}
		if p.Revision <= cached.Revision {
			continue
		}
		c.posts[p.ID] = p
		accepted++
	}
	return accepted
}

// Get returns a copy of the post with the given id.
func (c *Cache) Get(id string) (Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.posts[id]
	return p, ok
}

// List returns all posts in feed rank order.
func (c *Cache) List() []Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Post, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.posts[id])
	}
	return out
}

// Len returns the number of cached posts.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// Generation identifies the cache lifetime. Reset bumps it so responses
// that were in flight when the cache was cleared can be detected and
// dropped instead of resurrecting stale data.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// Reset clears all entries, synchronously with respect to subsequent reads.
// Used on logout and account switch.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.posts = make(map[string]Post)
	c.order = nil
	c.generation++
}

// mutate applies fn to the post with the given id under the write lock.
func (c *Cache) mutate(id string, fn func(Post) Post) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.posts[id]
	if !ok {
		return false
	}
	c.posts[id] = fn(p)
	return true
}
