package cache

import (
	"sync"
	"time"

	"github.com/VictoriaMetrics/fastcache"
)

// l3Tier stands in for a "sharded/distributed KV or equivalent": fastcache
// shards its keyspace internally (512 buckets) and is safe for concurrent
// access without an external cluster. It has no native key enumeration or
// TTL, so both are layered on top here; supportsKeys reports false so the
// cache correctly degrades prefix invalidation on this tier per spec.md §9.
type l3Tier struct {
	mu      sync.Mutex
	cache   *fastcache.Cache
	expires map[string]time.Time
}

func newL3Tier(maxBytes int) *l3Tier {
	if maxBytes <= 0 {
		maxBytes = 32 * 1024 * 1024
	}
	return &l3Tier{cache: fastcache.New(maxBytes), expires: make(map[string]time.Time)}
}

func (t *l3Tier) name() string { return "l3" }

func (t *l3Tier) get(key string) ([]byte, bool) {
	t.mu.Lock()
	if exp, has := t.expires[key]; has && !exp.IsZero() && !time.Now().Before(exp) {
		t.cache.Del([]byte(key))
		delete(t.expires, key)
		t.mu.Unlock()
		return nil, false
	}
	t.mu.Unlock()

	v, ok := t.cache.HasGet(nil, []byte(key))
	if !ok {
		return nil, false
	}
	return v, true
}

func (t *l3Tier) set(key string, value []byte, ttl time.Duration) error {
	t.cache.Set([]byte(key), value)
	t.mu.Lock()
	if ttl > 0 {
		t.expires[key] = time.Now().Add(ttl)
	} else {
		delete(t.expires, key)
	}
	t.mu.Unlock()
	return nil
}

func (t *l3Tier) del(key string) error {
	t.cache.Del([]byte(key))
	t.mu.Lock()
	delete(t.expires, key)
	t.mu.Unlock()
	return nil
}

// supportsKeys is false: fastcache offers no enumeration API, so
// invalidate_by_prefix must skip this tier (per the cache-backend
// interface contract in spec.md §9).
func (t *l3Tier) supportsKeys() bool    { return false }
func (t *l3Tier) keys(string) []string { return nil }

func (t *l3Tier) close() error {
	t.cache.Reset()
	return nil
}
