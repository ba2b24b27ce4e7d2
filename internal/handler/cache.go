package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

type cachedResult struct {
	data      []byte
	filename  string
	expiresAt time.Time
}

// resultCache stores converted images keyed by source content hash so repeat
// uploads of the same document skip the pipeline.
type resultCache struct {
	mu   sync.RWMutex
	data map[string]cachedResult
	ttl  time.Duration
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		data: make(map[string]cachedResult),
		ttl:  ttl,
	}
}

func cacheKey(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

func (c *resultCache) Get(key string, now time.Time) (cachedResult, bool) {
	c.mu.RLock()
	entry, ok := c.data[key]
	c.mu.RUnlock()
	if !ok || now.After(entry.expiresAt) {
		if ok {
			c.Delete(key)
		}
		return cachedResult{}, false
	}
	return entry, true
}

func (c *resultCache) Set(key string, data []byte, filename string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cachedResult{
		data:      data,
		filename:  filename,
		expiresAt: now.Add(c.ttl),
	}
}

func (c *resultCache) Delete(key string) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}
