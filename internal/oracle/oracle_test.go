package oracle

import (
	"fmt"
	"testing"
	"time"
)

func TestResultCacheHitAndExpiry(t *testing.T) {
	c := newResultCache(30 * time.Second)
	base := time.Now()
	c.now = func() time.Time { return base }

	c.put("decide:Blaze:Rex:hi", "respond")

	if text, ok := c.get("decide:Blaze:Rex:hi"); !ok || text != "respond" {
		t.Fatalf("fresh entry: got %q %v", text, ok)
	}

	// Past the TTL the entry is gone.
	base = base.Add(31 * time.Second)
	if _, ok := c.get("decide:Blaze:Rex:hi"); ok {
		t.Error("expired entry should miss")
	}
}

func TestResultCacheEmptyKeyDisabled(t *testing.T) {
	c := newResultCache(30 * time.Second)
	c.put("", "respond")
	if _, ok := c.get(""); ok {
		t.Error("empty key must never cache")
	}
}

func TestResultCacheSweepBoundsSize(t *testing.T) {
	c := newResultCache(time.Second)
	base := time.Now()
	c.now = func() time.Time { return base }

	for i := 0; i < 300; i++ {
		c.put(fmt.Sprintf("key-%d", i), "respond")
	}

	// Let everything expire, then trigger a sweep with fresh writes.
	base = base.Add(2 * time.Second)
	for i := 0; i < 10; i++ {
		c.put(fmt.Sprintf("fresh-%d", i), "respond")
	}

	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	if n != 10 {
		t.Errorf("cache holds %d entries, want 10 after the sweep", n)
	}
	if _, ok := c.get("fresh-5"); !ok {
		t.Error("fresh entry lost during sweep")
	}
}

func TestResultCacheZeroTTLGetsDefault(t *testing.T) {
	c := newResultCache(0)
	if c.ttl != 30*time.Second {
		t.Errorf("ttl = %v, want 30s default", c.ttl)
	}
}
