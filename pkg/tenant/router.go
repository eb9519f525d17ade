package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/tenantauth/pkg/permcache"
)

const tracerName = "github.com/platinummonkey/tenantauth/pkg/tenant"

// tenantPool is one open pool. Only the router touches it.
type tenantPool struct {
	tenantID   string
	db         *sql.DB
	route      Route
	createdAt  time.Time
	lastUsedAt time.Time
	stale      bool
}

// creation tracks an in-flight pool creation. done is closed once pool or err is set.
type creation struct {
	done chan struct{}
	pool *tenantPool
	err  error
}

// Router maps tenant ids to database pools.
//
// Each tenant has at most one pool. Concurrent first requests for a tenant wait
// on a single creation, and a pool being replaced is fully closed before its
// successor is opened.
type Router struct {
	resolver Resolver
	factory  PoolFactory
	config   Config
	logger   *logrus.Logger
	tracer   trace.Tracer
	now      func() time.Time

	routes *permcache.Cache[Route]

	mu       sync.Mutex
	pools    map[string]*tenantPool
	creating map[string]*creation
	closing  map[string]chan struct{} // closed once the tenant's old pool is fully closed
	closed   bool

	scheduler *cron.Cron
	closeOnce sync.Once
	closeErr  error

	created    atomic.Int64
	evicted    atomic.Int64
	recycled   atomic.Int64
	idleClosed atomic.Int64
	failed     atomic.Int64
}

// NewRouter creates a router and schedules its idle sweep
func NewRouter(resolver Resolver, factory PoolFactory, config Config, logger *logrus.Logger) (*Router, error) {
	if resolver == nil || factory == nil {
		return nil, fmt.Errorf("tenant router requires a resolver and a pool factory")
	}
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	config.applyDefaults()

	routes, err := permcache.New[Route](permcache.Config{
		MaxEntries:      config.MaxPools * 4,
		DefaultTTL:      config.RouteTTL,
		CleanupInterval: config.RouteTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create route cache: %w", err)
	}

	r := &Router{
		resolver: resolver,
		factory:  factory,
		config:   config,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
		routes:   routes,
		pools:    make(map[string]*tenantPool),
		creating: make(map[string]*creation),
		closing:  make(map[string]chan struct{}),
	}

	if !config.DisableSweep {
		r.scheduler = cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
		if _, err := r.scheduler.AddFunc(config.SweepSchedule, func() { r.SweepIdle() }); err != nil {
			routes.Dispose()
			return nil, fmt.Errorf("failed to schedule idle sweep: %w", err)
		}
		r.scheduler.Start()
	}

	return r, nil
}

// Get returns the pool for tenantID, creating it if needed. Creation is bounded
// by ctx and the configured CreateTimeout; failures are not cached.
func (r *Router) Get(ctx context.Context, tenantID string) (*sql.DB, error) {
	if tenantID == "" {
		return nil, ErrMissingTenant
	}

	ctx, span := r.tracer.Start(ctx, "tenant.Router.Get", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
	))
	defer span.End()

	db, err := r.get(ctx, tenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return db, err
}

func (r *Router) get(ctx context.Context, tenantID string) (*sql.DB, error) {
	r.mu.Lock()
	for {
		if r.closed {
			r.mu.Unlock()
			return nil, ErrRouterClosed
		}
		done, ok := r.closing[tenantID]
		if !ok {
			break
		}
		r.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		r.mu.Lock()
	}

	if c, ok := r.creating[tenantID]; ok {
		r.mu.Unlock()
		return r.wait(ctx, c)
	}

	now := r.now()
	var previous *tenantPool
	if p, ok := r.pools[tenantID]; ok {
		if !p.stale && now.Sub(p.createdAt) < r.config.MaxAge {
			p.lastUsedAt = now
			r.mu.Unlock()
			return p.db, nil
		}
		delete(r.pools, tenantID)
		previous = p
	}

	var victim *tenantPool
	if previous == nil && len(r.pools)+len(r.creating) >= r.config.MaxPools {
		victim = r.leastRecentlyUsed()
		if victim == nil {
			r.mu.Unlock()
			return nil, ErrPoolLimit
		}
		r.beginClose(victim)
	}

	c := &creation{done: make(chan struct{})}
	r.creating[tenantID] = c
	r.mu.Unlock()

	if victim != nil {
		r.evicted.Add(1)
		r.finishClose(victim, "evicted")
	}

	pool, err := r.create(ctx, tenantID, previous)

	r.mu.Lock()
	delete(r.creating, tenantID)
	if err == nil && r.closed {
		r.mu.Unlock()
		r.closePool(pool, "router_closed")
		r.mu.Lock()
		pool, err = nil, ErrRouterClosed
	}
	if err == nil {
		r.pools[tenantID] = pool
	}
	c.pool, c.err = pool, err
	close(c.done)
	r.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return pool.db, nil
}

// create resolves the tenant's route and opens its pool. A previous pool whose
// route is unchanged is kept; otherwise it is closed before the new one opens.
func (r *Router) create(ctx context.Context, tenantID string, previous *tenantPool) (*tenantPool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.CreateTimeout)
	defer cancel()

	route, err := r.route(ctx, tenantID)
	if err != nil {
		if previous != nil {
			r.recycled.Add(1)
			r.closePool(previous, "route_unavailable")
		}
		r.failed.Add(1)
		return nil, err
	}

	now := r.now()
	if previous != nil {
		if previous.stale && previous.route == route && now.Sub(previous.createdAt) < r.config.MaxAge {
			previous.stale = false
			previous.lastUsedAt = now
			return previous, nil
		}
		r.recycled.Add(1)
		r.closePool(previous, "recycled")
	}

	db, err := r.factory.Open(ctx, route)
	if err != nil {
		r.failed.Add(1)
		return nil, fmt.Errorf("failed to open pool for tenant %s: %w", tenantID, err)
	}

	r.created.Add(1)
	r.logger.WithField("tenant_id", tenantID).Info("tenant pool created")
	return &tenantPool{
		tenantID:   tenantID,
		db:         db,
		route:      route,
		createdAt:  now,
		lastUsedAt: now,
	}, nil
}

func (r *Router) route(ctx context.Context, tenantID string) (Route, error) {
	if route, ok := r.routes.Get(tenantID); ok {
		return route, nil
	}

	gen := r.routes.Generation()
	route, err := r.resolver.Resolve(ctx, tenantID)
	if err != nil {
		if errors.Is(err, ErrTenantNotFound) {
			return Route{}, err
		}
		return Route{}, fmt.Errorf("failed to resolve tenant %s: %w", tenantID, err)
	}
	route.TenantID = tenantID
	r.routes.PutIfUnchanged(tenantID, route, 0, gen)
	return route, nil
}

func (r *Router) wait(ctx context.Context, c *creation) (*sql.DB, error) {
	select {
	case <-c.done:
		if c.err != nil {
			return nil, c.err
		}
		return c.pool.db, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// leastRecentlyUsed returns the pool with the oldest lastUsedAt. Callers hold mu.
func (r *Router) leastRecentlyUsed() *tenantPool {
	var oldest *tenantPool
	for _, p := range r.pools {
		if oldest == nil || p.lastUsedAt.Before(oldest.lastUsedAt) {
			oldest = p
		}
	}
	return oldest
}

// HasConnection reports whether tenantID has an open pool
func (r *Router) HasConnection(tenantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pools[tenantID]
	return ok
}

// GetActiveConnections returns the tenant ids with open pools, sorted
func (r *Router) GetActiveConnections() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// InvalidateTenantCache drops the cached route for tenantID. The open pool, if
// any, is kept until next use, when the route is resolved again and the pool is
// replaced only if the route changed.
func (r *Router) InvalidateTenantCache(tenantID string) {
	r.routes.Invalidate(tenantID)

	r.mu.Lock()
	if p, ok := r.pools[tenantID]; ok {
		p.stale = true
	}
	r.mu.Unlock()
}

// SweepIdle closes every pool unused for longer than IdleTimeout and returns
// how many were closed
func (r *Router) SweepIdle() int {
	now := r.now()

	r.mu.Lock()
	var idle []*tenantPool
	for _, p := range r.pools {
		if now.Sub(p.lastUsedAt) > r.config.IdleTimeout {
			idle = append(idle, p)
		}
	}
	for _, p := range idle {
		r.beginClose(p)
	}
	r.mu.Unlock()

	for _, p := range idle {
		r.idleClosed.Add(1)
		r.finishClose(p, "idle")
	}
	if len(idle) > 0 {
		r.logger.WithField("closed", len(idle)).Debug("idle tenant pools closed")
	}
	return len(idle)
}

// Stats returns router statistics
func (r *Router) Stats() Stats {
	r.mu.Lock()
	active, creating := len(r.pools), len(r.creating)
	r.mu.Unlock()

	return Stats{
		Active:     active,
		Creating:   creating,
		Created:    r.created.Load(),
		Evicted:    r.evicted.Load(),
		Recycled:   r.recycled.Load(),
		IdleClosed: r.idleClosed.Load(),
		Failed:     r.failed.Load(),
	}
}

// Close stops the sweep and closes every pool. Later calls return the first
// call's result. Creations still in flight close their pool on completion.
func (r *Router) Close() error {
	r.closeOnce.Do(func() {
		if r.scheduler != nil {
			<-r.scheduler.Stop().Done()
		}

		r.mu.Lock()
		r.closed = true
		pools := r.pools
		r.pools = make(map[string]*tenantPool)
		r.mu.Unlock()

		var errs []error
		for id, p := range pools {
			if err := p.db.Close(); err != nil {
				errs = append(errs, fmt.Errorf("tenant %s: %w", id, err))
			}
		}
		r.routes.Dispose()

		if len(errs) > 0 {
			r.closeErr = fmt.Errorf("failed to close tenant pools: %w", errors.Join(errs...))
		}
	})
	return r.closeErr
}

// beginClose removes p from the active pools and marks its tenant as closing,
// so Get for that tenant waits until finishClose. Callers hold mu.
func (r *Router) beginClose(p *tenantPool) {
	delete(r.pools, p.tenantID)
	r.closing[p.tenantID] = make(chan struct{})
}

// finishClose closes p, then releases callers waiting on its tenant
func (r *Router) finishClose(p *tenantPool, reason string) {
	r.closePool(p, reason)

	r.mu.Lock()
	done := r.closing[p.tenantID]
	delete(r.closing, p.tenantID)
	r.mu.Unlock()
	close(done)
}

func (r *Router) closePool(p *tenantPool, reason string) {
	entry := r.logger.WithFields(logrus.Fields{
		"tenant_id": p.tenantID,
		"reason":    reason,
	})
	if err := p.db.Close(); err != nil {
		entry.WithError(err).Warn("failed to close tenant pool")
		return
	}
	entry.Debug("tenant pool closed")
}
