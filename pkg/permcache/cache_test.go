package permcache

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, maxEntries int) (*Cache[string], *fakeClock) {
	t.Helper()
	c, err := New[string](Config{
		MaxEntries:      maxEntries,
		DefaultTTL:      time.Minute,
		CleanupInterval: -1,
	}, nil)
	require.NoError(t, err)
	t.Cleanup(c.Dispose)

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c.now = clock.Now
	return c, clock
}

func TestNew(t *testing.T) {
	t.Run("applies defaults", func(t *testing.T) {
		c, err := New[int](Config{}, nil)
		require.NoError(t, err)
		defer c.Dispose()

		assert.Equal(t, DefaultMaxEntries, c.config.MaxEntries)
		assert.Equal(t, DefaultTTL, c.config.DefaultTTL)
		assert.Equal(t, DefaultCleanupInterval, c.config.CleanupInterval)
	})

	t.Run("rejects negative size", func(t *testing.T) {
		_, err := New[int](Config{MaxEntries: -1}, nil)
		assert.ErrorIs(t, err, ErrInvalidMaxEntries)
	})
}

func TestCache_GetPut(t *testing.T) {
	c, _ := newTestCache(t, 10)

	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Put("k", "v1", 0)
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got)

	c.Put("k", "v2", 0)
	got, _ = c.Get("k")
	assert.Equal(t, "v2", got)

	stats := c.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.InDelta(t, 2.0/3.0, stats.HitRate, 0.0001)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_Expiry(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Put("short", "a", 10*time.Second)
	c.Put("default", "b", 0)

	clock.Advance(10 * time.Second)
	_, ok := c.Get("short")
	assert.True(t, ok, "entry is live until now passes expiresAt")

	clock.Advance(time.Second)
	_, ok = c.Get("short")
	assert.False(t, ok)

	_, ok = c.Get("default")
	assert.True(t, ok)

	clock.Advance(time.Minute)
	_, ok = c.Get("default")
	assert.False(t, ok)
}

func TestCache_RemoveExpired(t *testing.T) {
	c, clock := newTestCache(t, 10)

	c.Put("a", "1", time.Second)
	c.Put("b", "2", time.Second)
	c.Put("c", "3", time.Hour)

	clock.Advance(2 * time.Second)
	assert.Equal(t, 2, c.RemoveExpired())
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(2), c.Stats().Expired)
}

func TestCache_SizeBound(t *testing.T) {
	c, _ := newTestCache(t, 3)

	for i := 0; i < 5; i++ {
		c.Put(fmt.Sprintf("k%d", i), "v", 0)
	}

	assert.Equal(t, 3, c.Len())
	assert.Equal(t, int64(2), c.Stats().Evictions)

	_, ok := c.Get("k0")
	assert.False(t, ok, "oldest entry should be evicted first")
	_, ok = c.Get("k4")
	assert.True(t, ok)
}

func TestCache_Invalidate(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Put("tenant-a:u1", "x", 0)

	assert.True(t, c.Invalidate("tenant-a:u1"))
	assert.False(t, c.Invalidate("tenant-a:u1"))

	_, ok := c.Get("tenant-a:u1")
	assert.False(t, ok)
}

func TestCache_InvalidateByPrefix(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Put("tenant-a:u1", "x", 0)
	c.Put("tenant-a:u2", "x", 0)
	c.Put("tenant-ab:u1", "x", 0)
	c.Put("tenant-b:u1", "x", 0)

	assert.Equal(t, 2, c.InvalidateByPrefix("tenant-a:"))

	_, ok := c.Get("tenant-ab:u1")
	assert.True(t, ok, "prefix includes the separator so similar tenant ids survive")
	_, ok = c.Get("tenant-b:u1")
	assert.True(t, ok)
}

func TestCache_InvalidateWhere(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Put("t:1", "store_manager", 0)
	c.Put("t:2", "salesperson", 0)
	c.Put("u:3", "salesperson", 0)

	removed := c.InvalidateWhere(func(key, v string) bool {
		return v == "salesperson" && strings.HasPrefix(key, "t:")
	})
	assert.Equal(t, 1, removed)
	assert.Equal(t, 2, c.Len())

	_, ok := c.Get("t:2")
	assert.False(t, ok)
	_, ok = c.Get("u:3")
	assert.True(t, ok)
}

func TestCache_Clear(t *testing.T) {
	c, _ := newTestCache(t, 10)
	c.Put("a", "1", 0)
	c.Put("b", "2", 0)

	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestCache_PutIfUnchanged(t *testing.T) {
	c, _ := newTestCache(t, 10)

	gen := c.Generation()
	assert.True(t, c.PutIfUnchanged("k", "fresh", 0, gen))

	gen = c.Generation()
	c.Invalidate("other")
	assert.False(t, c.PutIfUnchanged("k", "stale", 0, gen))

	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "fresh", got)
}

func TestCache_BackgroundSweep(t *testing.T) {
	c, err := New[string](Config{MaxEntries: 10, CleanupInterval: 10 * time.Millisecond}, nil)
	require.NoError(t, err)
	defer c.Dispose()

	c.Put("k", "v", time.Millisecond)

	assert.Eventually(t, func() bool {
		return c.Len() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCache_DisposeIdempotent(t *testing.T) {
	c, err := New[string](Config{CleanupInterval: time.Hour}, nil)
	require.NoError(t, err)

	c.Dispose()
	c.Dispose()
}

func TestCache_Concurrent(t *testing.T) {
	c, err := New[int](Config{MaxEntries: 64, CleanupInterval: time.Millisecond}, nil)
	require.NoError(t, err)
	defer c.Dispose()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("t%d:u%d", w%2, i%100)
				c.Put(key, i, time.Millisecond*time.Duration(i%5+1))
				c.Get(key)
				switch i % 50 {
				case 0:
					c.InvalidateByPrefix("t0:")
				case 25:
					c.InvalidateWhere(func(_ string, v int) bool { return v%2 == 0 })
				}
			}
		}(w)
	}
	wg.Wait()

	assert.LessOrEqual(t, c.Len(), 64)
}
