package permcache

import "time"

const (
	// DefaultTTL is the lifetime of an entry stored without an explicit TTL
	DefaultTTL = 5 * time.Minute

	// DefaultMaxEntries bounds the number of cached entries
	DefaultMaxEntries = 10000

	// DefaultCleanupInterval is the cadence of the background expiry sweep
	DefaultCleanupInterval = time.Minute
)

// Config holds cache configuration
type Config struct {
	MaxEntries      int           // Maximum number of entries (default: 10000)
	DefaultTTL      time.Duration // TTL used when Put is called with ttl <= 0 (default: 5 minutes)
	CleanupInterval time.Duration // Expiry sweep cadence; negative disables the sweep (default: 1 minute)
}

// DefaultConfig returns default cache configuration
func DefaultConfig() Config {
	return Config{
		MaxEntries:      DefaultMaxEntries,
		DefaultTTL:      DefaultTTL,
		CleanupInterval: DefaultCleanupInterval,
	}
}

// Stats represents cache statistics
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Expired   int64
	HitRate   float64
	Size      int
}

// entry is a cached value with its insertion and expiry times
type entry[V any] struct {
	value      V
	insertedAt time.Time
	expiresAt  time.Time
}

func (e entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}
