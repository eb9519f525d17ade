package permcache

import (
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"
)

// Cache is a bounded, TTL-aware, concurrency-safe string-keyed cache.
//
// Reads go straight to the underlying LRU, which has its own lock. Writes and
// invalidations additionally serialize on mu so a conditional write can never
// interleave with an invalidation.
type Cache[V any] struct {
	config  Config
	store   *lru.Cache[string, entry[V]]
	metrics *metrics
	logger  *logrus.Logger
	now     func() time.Time

	mu         sync.Mutex
	generation atomic.Uint64

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its background expiry sweep
func New[V any](config Config, logger *logrus.Logger) (*Cache[V], error) {
	if config.MaxEntries == 0 {
		config.MaxEntries = DefaultMaxEntries
	}
	if config.MaxEntries < 0 {
		return nil, ErrInvalidMaxEntries
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultTTL
	}
	if config.CleanupInterval == 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	store, err := lru.New[string, entry[V]](config.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru store: %w", err)
	}

	c := &Cache[V]{
		config:  config,
		store:   store,
		metrics: &metrics{},
		logger:  logger,
		now:     time.Now,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}

	if config.CleanupInterval > 0 {
		go c.sweepLoop(config.CleanupInterval)
	} else {
		close(c.doneCh)
	}

	return c, nil
}

// Get returns the cached value for key. Expired entries are reported as misses.
func (c *Cache[V]) Get(key string) (V, bool) {
	e, ok := c.store.Get(key)
	if !ok || e.expired(c.now()) {
		c.metrics.recordMiss()
		var zero V
		return zero, false
	}

	c.metrics.recordHit()
	return e.value, true
}

// Put inserts or overwrites key. A ttl <= 0 uses the configured default. When
// the cache is full the least recently used entry is evicted.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.add(key, value, ttl)
}

// Generation returns a counter that advances on every invalidation. Pair it
// with PutIfUnchanged to discard values loaded before an invalidation.
func (c *Cache[V]) Generation() uint64 {
	return c.generation.Load()
}

// PutIfUnchanged stores value only if no invalidation happened since gen was
// read. It reports whether the value was stored.
func (c *Cache[V]) PutIfUnchanged(key string, value V, ttl time.Duration, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation.Load() != gen {
		return false
	}
	c.add(key, value, ttl)
	return true
}

func (c *Cache[V]) add(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	now := c.now()
	if evicted := c.store.Add(key, entry[V]{value: value, insertedAt: now, expiresAt: now.Add(ttl)}); evicted {
		c.metrics.recordEviction()
	}
}

// Invalidate removes key. It reports whether the key was present.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation.Add(1)
	return c.store.Remove(key)
}

// InvalidateByPrefix removes every key starting with prefix and returns the
// number of removed entries
func (c *Cache[V]) InvalidateByPrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation.Add(1)
	removed := 0
	for _, key := range c.store.Keys() {
		if strings.HasPrefix(key, prefix) && c.store.Remove(key) {
			removed++
		}
	}
	return removed
}

// InvalidateWhere removes every entry whose value satisfies match and returns
// the number of removed entries. This is a full scan.
func (c *Cache[V]) InvalidateWhere(match func(key string, value V) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation.Add(1)
	removed := 0
	for _, key := range c.store.Keys() {
		e, ok := c.store.Peek(key)
		if !ok {
			continue
		}
		if match(key, e.value) && c.store.Remove(key) {
			removed++
		}
	}
	return removed
}

// Clear removes every entry
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation.Add(1)
	c.store.Purge()
}

// RemoveExpired removes every expired entry and returns how many were removed
func (c *Cache[V]) RemoveExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.store.Keys() {
		e, ok := c.store.Peek(key)
		if ok && e.expired(now) && c.store.Remove(key) {
			removed++
		}
	}
	c.metrics.recordExpired(removed)
	return removed
}

// Len returns the number of entries, expired ones included
func (c *Cache[V]) Len() int {
	return c.store.Len()
}

// Stats returns cache statistics
func (c *Cache[V]) Stats() Stats {
	stats := Stats{
		Hits:      c.metrics.hits.Load(),
		Misses:    c.metrics.misses.Load(),
		Evictions: c.metrics.evictions.Load(),
		Expired:   c.metrics.expired.Load(),
		Size:      c.store.Len(),
	}

	total := stats.Hits + stats.Misses
	if total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}
	return stats
}

// Dispose stops the background sweep. It is safe to call more than once.
func (c *Cache[V]) Dispose() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh
}

func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer close(c.doneCh)

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Cache[V]) sweep() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.WithField("panic", r).Errorf("permission cache sweep panicked\n%s", debug.Stack())
		}
	}()

	if removed := c.RemoveExpired(); removed > 0 {
		c.logger.WithField("removed", removed).Debug("expired cache entries removed")
	}
}

// metrics tracks cache counters
type metrics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
	expired   atomic.Int64
}

func (m *metrics) recordHit() {
	m.hits.Add(1)
}

func (m *metrics) recordMiss() {
	m.misses.Add(1)
}

func (m *metrics) recordEviction() {
	m.evictions.Add(1)
}

func (m *metrics) recordExpired(n int) {
	m.expired.Add(int64(n))
}
