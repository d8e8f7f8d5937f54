package dpop

import (
	"sync"
	"time"
)

// memoryNonceCache is a minimal in-process NonceCache used only by this
// package's tests; the production cache lives in internal/store backed
// by Redis (SETNX), grounded on gourdiantoken's MarkTokenRotatedAtomic.
type memoryNonceCache struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newMemoryNonceCache() *memoryNonceCache {
	return &memoryNonceCache{seen: make(map[string]time.Time)}
}

func (c *memoryNonceCache) SeenBefore(jkt, jti string, window time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := jkt + ":" + jti
	if exp, ok := c.seen[key]; ok && time.Now().Before(exp) {
		return true, nil
	}
	c.seen[key] = time.Now().Add(window)
	return false, nil
}
