package tenant

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"strconv"
	"time"
)

const (
	DefaultMaxPools      = 50
	DefaultMaxAge        = 30 * time.Minute
	DefaultIdleTimeout   = 10 * time.Minute
	DefaultRouteTTL      = 5 * time.Minute
	DefaultCreateTimeout = 10 * time.Second
	DefaultSweepSchedule = "@every 1m"
)

// Route holds the connection facts for one tenant database
type Route struct {
	TenantID string
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string
}

// DSN returns a lib/pq connection URL for the route
func (r Route) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   r.Host,
		Path:   "/" + r.Database,
	}
	if r.Port > 0 {
		u.Host = net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
	}
	if r.User != "" {
		if r.Password != "" {
			u.User = url.UserPassword(r.User, r.Password)
		} else {
			u.User = url.User(r.User)
		}
	}
	sslMode := r.SSLMode
	if sslMode == "" {
		sslMode = "require"
	}
	u.RawQuery = url.Values{"sslmode": []string{sslMode}}.Encode()
	return u.String()
}

// Resolver looks up the route for a tenant. Resolve returns ErrTenantNotFound
// for unknown or inactive tenants.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (Route, error)
}

// ResolverFunc adapts a function to the Resolver interface
type ResolverFunc func(ctx context.Context, tenantID string) (Route, error)

// Resolve calls f
func (f ResolverFunc) Resolve(ctx context.Context, tenantID string) (Route, error) {
	return f(ctx, tenantID)
}

// PoolFactory opens a connection pool for a route
type PoolFactory interface {
	Open(ctx context.Context, route Route) (*sql.DB, error)
}

// Config holds router configuration
type Config struct {
	MaxPools      int           // Maximum concurrently open tenant pools (default: 50)
	MaxAge        time.Duration // Pools older than this are recycled on next use (default: 30 minutes)
	IdleTimeout   time.Duration // Pools unused for this long are closed by the sweep (default: 10 minutes)
	RouteTTL      time.Duration // Lifetime of cached routes (default: 5 minutes)
	CreateTimeout time.Duration // Upper bound on resolving and opening a pool (default: 10 seconds)
	SweepSchedule string        // Cron spec for the idle sweep (default: "@every 1m")
	DisableSweep  bool          // Do not schedule the idle sweep
}

func (c *Config) applyDefaults() {
	if c.MaxPools <= 0 {
		c.MaxPools = DefaultMaxPools
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultMaxAge
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.RouteTTL <= 0 {
		c.RouteTTL = DefaultRouteTTL
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = DefaultCreateTimeout
	}
	if c.SweepSchedule == "" {
		c.SweepSchedule = DefaultSweepSchedule
	}
}

// Stats holds router statistics
type Stats struct {
	Active     int
	Creating   int
	Created    int64
	Evicted    int64 // Closed to make room under MaxPools
	Recycled   int64 // Closed for exceeding MaxAge or after a route change
	IdleClosed int64
	Failed     int64
}
