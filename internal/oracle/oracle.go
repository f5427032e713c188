// Package oracle wraps the external inference service behind the decision
// oracle contract: a prompt goes in, a short text judgment comes out, and any
// transport or provider failure is reported as "no opinion" rather than an
// error the caller has to branch on. This is the only package that performs
// outbound inference calls.
package oracle

import (
	"context"
	"sync"
	"time"
)

// QueryOpts tunes one oracle query.
type QueryOpts struct {
	MaxTokens   int
	Temperature float64

	// CacheKey, when non-empty, enables the short-lived result cache. A hit
	// bypasses the call entirely.
	CacheKey string
}

// Oracle is the decision oracle contract consumed by the arbiter and the tick
// scheduler. ok is false whenever the oracle has no opinion (failure, timeout,
// rate limit); callers must fall back to heuristics, never retry inline.
type Oracle interface {
	Query(ctx context.Context, prompt string, opts QueryOpts) (text string, ok bool)
}

// cacheEntry is one cached oracle result.
type cacheEntry struct {
	text    string
	expires time.Time
}

// resultCache is a TTL cache for oracle results keyed by caller-supplied
// cache keys.
type resultCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &resultCache{
		ttl:     ttl,
		entries: make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (c *resultCache) get(key string) (string, bool) {
	if key == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || c.now().After(e.expires) {
		delete(c.entries, key)
		return "", false
	}
	return e.text, true
}

func (c *resultCache) put(key, text string) {
	if key == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{text: text, expires: c.now().Add(c.ttl)}

	// Opportunistic sweep so the map does not grow without bound.
	if len(c.entries) > 256 {
		now := c.now()
		for k, e := range c.entries {
			if now.After(e.expires) {
				delete(c.entries, k)
			}
		}
	}
}
