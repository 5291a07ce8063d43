// Package cache implements the three-tier read-through cache from
// spec.md §4.3: an in-process LRU (L1), a shared Redis instance (L2), and
// a sharded in-process KV standing in for a distributed tier (L3), with
// dependency-graph invalidation and a predictive prefetcher.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/l2labs/sequencer/log"
	"github.com/l2labs/sequencer/metrics"
)

// Config holds the cache.* options from spec.md §6.
type Config struct {
	L1Size  int
	L1TTL   time.Duration
	L2Addr  string // empty disables L2
	L2TTL   time.Duration
	L3Bytes int
	L3TTL   time.Duration

	CompressionThreshold int
	CompressionAlgorithm Algorithm

	PrefetchPatternLength int
	PrefetchThreshold     float64
	PrefetchMaxItems      int

	MaxTransitiveDepth int

	PersistPath     string
	PersistInterval time.Duration
}

// DefaultConfig gives every tier a small but usable footprint.
func DefaultConfig() Config {
	return Config{
		L1Size:                10_000,
		L1TTL:                 30 * time.Second,
		L2TTL:                 5 * time.Minute,
		L3Bytes:               64 * 1024 * 1024,
		L3TTL:                 30 * time.Minute,
		CompressionThreshold:  1024,
		CompressionAlgorithm:  AlgoDeflate,
		PrefetchPatternLength: 3,
		PrefetchThreshold:     0.3,
		PrefetchMaxItems:      5,
		MaxTransitiveDepth:    8,
		PersistInterval:       time.Minute,
	}
}

// SetOptions customizes a Set call.
type SetOptions struct {
	TTL          time.Duration
	Dependencies []string
}

// Loader fetches a value on behalf of the prefetcher, which has no
// direct access to the backing store; wiring one is optional — without a
// Loader, predicted keys are not fetched.
type Loader func(ctx context.Context, key string) ([]byte, *SetOptions, error)

// Cache is the multi-level cache described by spec.md §4.3.
type Cache struct {
	cfg Config

	l1 *l1Tier
	l2 *l2Tier
	l3 *l3Tier

	deps     *DependencyGraph
	prefetch *Prefetcher
	persist  *persister
	loader   Loader

	loadGroup singleflight.Group

	mu sync.RWMutex // guards loader assignment only

	hits         metrics.Counter
	misses       metrics.Counter
	l1Hits       metrics.Counter
	l2Hits       metrics.Counter
	l3Hits       metrics.Counter
	prefetchHits metrics.Counter
	tierErrors   metrics.Counter

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// New constructs a Cache from cfg. L2 is only created if cfg.L2Addr is set.
func New(cfg Config) *Cache {
	c := &Cache{
		cfg:          cfg,
		l1:           newL1Tier(cfg.L1Size),
		l3:           newL3Tier(cfg.L3Bytes),
		deps:         NewDependencyGraph(cfg.MaxTransitiveDepth),
		prefetch:     NewPrefetcher(cfg.PrefetchPatternLength, cfg.PrefetchThreshold, cfg.PrefetchMaxItems),
		persist:      newPersister(cfg.PersistPath),
		hits:         metrics.NewRegisteredCounter("cache/hits", nil),
		misses:       metrics.NewRegisteredCounter("cache/misses", nil),
		l1Hits:       metrics.NewRegisteredCounter("cache/hits/l1", nil),
		l2Hits:       metrics.NewRegisteredCounter("cache/hits/l2", nil),
		l3Hits:       metrics.NewRegisteredCounter("cache/hits/l3", nil),
		prefetchHits: metrics.NewRegisteredCounter("cache/hits/prefetch", nil),
		tierErrors:   metrics.NewRegisteredCounter("cache/tier_errors", nil),
	}
	if cfg.L2Addr != "" {
		c.l2 = newL2Tier(cfg.L2Addr)
	}
	if p := c.persist; p != nil {
		if snap := p.load(); snap != nil {
			c.restore(snap)
		}
	}
	return c
}

// SetLoader wires a Loader used by the prefetcher to populate predicted
// keys that are not already cached.
func (c *Cache) SetLoader(l Loader) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loader = l
}

func (c *Cache) getLoader() Loader {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loader
}

// StartPersistence launches the periodic L1 snapshot writer; it stops when
// ctx is canceled or Close is called.
func (c *Cache) StartPersistence(ctx context.Context) {
	if c.persist == nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(c.cfg.PersistInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.snapshotAndPersist()
			}
		}
	}()
}

func (c *Cache) snapshotAndPersist() {
	entries := make(map[string]entryRecord)
	for k, v := range c.l1.snapshotForPersist() {
		rec, err := decodeRecord(v)
		if err != nil {
			continue
		}
		entries[k] = *rec
	}
	c.persist.save(persistedSnapshot{Entries: entries})
}

func (c *Cache) restore(snap *persistedSnapshot) {
	now := time.Now()
	for k, rec := range snap.Entries {
		if rec.expired(now) {
			continue
		}
		raw, err := encodeRecord(&rec)
		if err != nil {
			continue
		}
		c.l1.restore(k, raw, rec.Expiry)
		for _, dep := range rec.Dependencies {
			c.deps.AddDependency(k, dep)
		}
	}
}

// Close stops the persistence loop and closes every enabled tier.
func (c *Cache) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.persist != nil {
		c.snapshotAndPersist()
		_ = c.persist.close()
	}
	_ = c.l1.close()
	if c.l2 != nil {
		_ = c.l2.close()
	}
	_ = c.l3.close()
	return nil
}

// Get probes L1 -> L2 -> L3 in order, promoting on hit, and returns
// (nil, false) on a complete miss. Every access feeds the prefetcher.
func (c *Cache) Get(key string) ([]byte, bool) {
	value, hitTier, ok := c.getRaw(key)
	candidates := c.prefetch.RecordAccess(key)
	if len(candidates) > 0 {
		go c.runPrefetch(candidates)
	}
	if !ok {
		c.misses.Inc(1)
		return nil, false
	}
	c.hits.Inc(1)
	switch hitTier {
	case "l1":
		c.l1Hits.Inc(1)
	case "l2":
		c.l2Hits.Inc(1)
	case "l3":
		c.l3Hits.Inc(1)
	}
	return value, true
}

func (c *Cache) getRaw(key string) (value []byte, hitTier string, ok bool) {
	now := time.Now()

	if raw, hit := c.l1.get(key); hit {
		if rec, err := decodeRecord(raw); err == nil && !rec.expired(now) {
			v, err := decompress(rec.Value, rec.Compressed, rec.Algo)
			if err == nil {
				return v, "l1", true
			}
		}
	}
	if c.l2 != nil {
		if raw, hit := c.l2.get(key); hit {
			if rec, err := decodeRecord(raw); err == nil && !rec.expired(now) {
				v, err := decompress(rec.Value, rec.Compressed, rec.Algo)
				if err == nil {
					c.promote(key, raw, c.cfg.L1TTL, tierL1)
					return v, "l2", true
				}
			}
		}
	}
	if raw, hit := c.l3.get(key); hit {
		if rec, err := decodeRecord(raw); err == nil && !rec.expired(now) {
			v, err := decompress(rec.Value, rec.Compressed, rec.Algo)
			if err == nil {
				c.promote(key, raw, c.cfg.L2TTL, tierL1|tierL2)
				return v, "l3", true
			}
		}
	}
	return nil, "", false
}

type tierMask int

const (
	tierL1 tierMask = 1 << iota
	tierL2
)

func (c *Cache) promote(key string, raw []byte, l2ttl time.Duration, mask tierMask) {
	if mask&tierL1 != 0 {
		if err := c.l1.set(key, raw, c.cfg.L1TTL); err != nil {
			c.tierErrors.Inc(1)
		}
	}
	if mask&tierL2 != 0 && c.l2 != nil {
		if err := c.l2.set(key, raw, l2ttl); err != nil {
			c.tierErrors.Inc(1)
		}
	}
}

// Set writes value to every enabled tier with its configured TTL (or
// opts.TTL if nonzero, as an override), registers dependency edges, and
// compresses the value above the configured byte threshold.
func (c *Cache) Set(key string, value []byte, opts SetOptions) error {
	compressed, wasCompressed, err := compress(value, c.cfg.CompressionThreshold, c.cfg.CompressionAlgorithm)
	if err != nil {
		return err
	}
	now := time.Now()
	rec := &entryRecord{
		Value:        compressed,
		Compressed:   wasCompressed,
		Algo:         c.cfg.CompressionAlgorithm,
		CreatedAt:    now,
		LastAccessed: now,
		AccessCount:  1,
		Dependencies: opts.Dependencies,
	}
	if opts.TTL > 0 {
		rec.Expiry = now.Add(opts.TTL)
	}
	raw, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	l1ttl, l2ttl, l3ttl := c.cfg.L1TTL, c.cfg.L2TTL, c.cfg.L3TTL
	if opts.TTL > 0 {
		l1ttl, l2ttl, l3ttl = opts.TTL, opts.TTL, opts.TTL
	}

	if err := c.l1.set(key, raw, l1ttl); err != nil {
		c.tierErrors.Inc(1)
	}
	if c.l2 != nil {
		if err := c.l2.set(key, raw, l2ttl); err != nil {
			c.tierErrors.Inc(1)
		}
	}
	// L3 write-through is best-effort per spec.md's Open Question (c):
	// a timeout or error there only increments the counter, it never
	// blocks the caller.
	if err := c.l3.set(key, raw, l3ttl); err != nil {
		c.tierErrors.Inc(1)
	}

	for _, dep := range opts.Dependencies {
		c.deps.AddDependency(key, dep)
	}
	return nil
}

func (c *Cache) tiers() []tier {
	out := []tier{c.l1, c.l3}
	if c.l2 != nil {
		out = append(out, c.l2)
	}
	return out
}

// Invalidate removes key from every tier.
func (c *Cache) Invalidate(key string) {
	for _, t := range c.tiers() {
		if err := t.del(key); err != nil {
			c.tierErrors.Inc(1)
		}
	}
	c.deps.RemoveKey(key)
}

// InvalidateDependents removes every key that (transitively, up to the
// configured depth) depends on key.
func (c *Cache) InvalidateDependents(key string) {
	for _, dependent := range c.deps.Dependents(key) {
		c.Invalidate(dependent)
	}
	c.Invalidate(key)
}

// InvalidateByPrefix removes every key starting with prefix from every
// tier that supports key enumeration, skipping tiers that don't (fastcache
// on L3), per spec.md §9.
func (c *Cache) InvalidateByPrefix(prefix string) {
	for _, t := range c.tiers() {
		if !t.supportsKeys() {
			continue
		}
		for _, k := range t.keys(prefix) {
			if err := t.del(k); err != nil {
				c.tierErrors.Inc(1)
			}
			c.deps.RemoveKey(k)
		}
	}
}

func (c *Cache) runPrefetch(keys []string) {
	loader := c.getLoader()
	if loader == nil {
		return
	}
	for _, key := range keys {
		if _, _, ok := c.getRaw(key); ok {
			continue
		}
		k := key
		_, _, _ = c.loadGroup.Do(k, func() (interface{}, error) {
			value, opts, err := loader(context.Background(), k)
			if err != nil {
				return nil, err
			}
			if opts == nil {
				opts = &SetOptions{}
			}
			if err := c.Set(k, value, *opts); err != nil {
				return nil, err
			}
			c.prefetchHits.Inc(1)
			log.Debug("prefetched key", "key", k)
			return nil, nil
		})
	}
}

// Stats exposes the cache's hit counters (overall, per tier, and
// prefetch), its miss counter, and its single aggregate tier-error counter.
func (c *Cache) Stats() map[string]int64 {
	return map[string]int64{
		"hits":           c.hits.Snapshot().Count(),
		"misses":         c.misses.Snapshot().Count(),
		"hits_l1":        c.l1Hits.Snapshot().Count(),
		"hits_l2":        c.l2Hits.Snapshot().Count(),
		"hits_l3":        c.l3Hits.Snapshot().Count(),
		"hits_prefetch":  c.prefetchHits.Snapshot().Count(),
		"tier_errors":    c.tierErrors.Snapshot().Count(),
	}
}
