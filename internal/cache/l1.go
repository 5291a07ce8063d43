package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// l1Tier is the in-process bounded LRU tier. hashicorp/golang-lru v0.5 has
// no built-in TTL, so expiry is tracked alongside it in a small map keyed
// by the same cache key; the data-model invariant "if expiry <= now the
// entry is absent to readers" is enforced on every read.
type l1Tier struct {
	mu      sync.Mutex
	cache   *lru.Cache
	expires map[string]time.Time
}

func newL1Tier(size int) *l1Tier {
	c, err := lru.New(size)
	if err != nil {
		// size <= 0; fall back to a minimal usable cache rather than
		// letting a misconfiguration disable L1 entirely.
		c, _ = lru.New(1)
	}
	return &l1Tier{cache: c, expires: make(map[string]time.Time)}
}

func (t *l1Tier) name() string { return "l1" }

func (t *l1Tier) get(key string) ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.cache.Get(key)
	if !ok {
		return nil, false
	}
	if exp, has := t.expires[key]; has && !exp.IsZero() && !time.Now().Before(exp) {
		t.cache.Remove(key)
		delete(t.expires, key)
		return nil, false
	}
	return v.([]byte), true
}

func (t *l1Tier) set(key string, value []byte, ttl time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(key, value)
	if ttl > 0 {
		t.expires[key] = time.Now().Add(ttl)
	} else {
		delete(t.expires, key)
	}
	return nil
}

func (t *l1Tier) del(key string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Remove(key)
	delete(t.expires, key)
	return nil
}

func (t *l1Tier) supportsKeys() bool { return true }

func (t *l1Tier) keys(prefix string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for _, k := range t.cache.Keys() {
		ks := k.(string)
		if len(prefix) == 0 || (len(ks) >= len(prefix) && ks[:len(prefix)] == prefix) {
			out = append(out, ks)
		}
	}
	return out
}

func (t *l1Tier) close() error { return nil }

// snapshotForPersist returns every non-expired (key,value) pair, used by
// the periodic persistence writer in persist.go.
func (t *l1Tier) snapshotForPersist() map[string][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string][]byte)
	now := time.Now()
	for _, k := range t.cache.Keys() {
		ks := k.(string)
		if exp, has := t.expires[ks]; has && !exp.IsZero() && now.After(exp) {
			continue
		}
		if v, ok := t.cache.Peek(ks); ok {
			out[ks] = v.([]byte)
		}
	}
	return out
}

func (t *l1Tier) restore(key string, value []byte, expiry time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.Add(key, value)
	if !expiry.IsZero() {
		t.expires[key] = expiry
	}
}
