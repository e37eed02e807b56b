package oracle

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// CacheKey returns the cache key for an utterance: SHA-256 of the lowercased,
// whitespace-collapsed text. Keys are user-agnostic; personalization happens
// only in L1.
func CacheKey(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// verdictCache is a bounded LRU map from cache key to verdict. Reads promote.
// Every read and write, not only eviction, serializes on the single mutex.
type verdictCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type cacheEntry struct {
	key     string
	verdict *Verdict
}

func newVerdictCache(max int) *verdictCache {
	return &verdictCache{
		max:     max,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *verdictCache) Get(key string) (*Verdict, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).verdict, true
}

func (c *verdictCache) Put(key string, v *Verdict) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).verdict = v
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, verdict: v})
	for c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *verdictCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
