package botguard

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

const defaultMemoryEntries = 64

// MemoryCache keeps attestation tokens in process memory, keyed by
// KeyFromInput. Expired tokens read as misses and are pruned on Set. When
// full, the token closest to expiry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	tokens  map[string]Output
	limit   int
	nowFunc func() time.Time
}

// NewMemoryCache returns an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		tokens:  make(map[string]Output),
		limit:   defaultMemoryEntries,
		nowFunc: time.Now,
	}
}

func (c *MemoryCache) Get(key string) (Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, ok := c.tokens[key]
	if !ok {
		return Output{}, false
	}
	if out.Expired(c.nowFunc()) {
		delete(c.tokens, key)
		return Output{}, false
	}
	return out, true
}

func (c *MemoryCache) Set(key string, value Output) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.nowFunc()
	for k, out := range c.tokens {
		if out.Expired(now) {
			delete(c.tokens, k)
		}
	}
	if _, exists := c.tokens[key]; !exists && len(c.tokens) >= c.limit {
		oldest := lo.MinBy(lo.Entries(c.tokens), func(a, b lo.Entry[string, Output]) bool {
			return expiresBefore(a.Value, b.Value)
		})
		delete(c.tokens, oldest.Key)
	}
	c.tokens[key] = value
}

// Len reports the number of stored tokens, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tokens)
}

// expiresBefore orders tokens by expiry; tokens without one sort last.
func expiresBefore(a, b Output) bool {
	switch {
	case a.ExpiresAt.IsZero():
		return false
	case b.ExpiresAt.IsZero():
		return true
	default:
		return a.ExpiresAt.Before(b.ExpiresAt)
	}
}
