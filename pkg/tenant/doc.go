// Package tenant routes requests to per-tenant database pools.
//
// Router keeps at most one *sql.DB per tenant. Pools are created lazily on first
// use, exactly once even under concurrent demand, and are closed when they:
//
//   - exceed MaxAge (replaced on next use)
//   - sit unused past IdleTimeout (closed by a cron-scheduled sweep)
//   - are the least recently used pool when MaxPools is reached
//
// Routes (host, database, credentials) come from a Resolver, usually a
// PostgresRegistry over the control-plane tenants table, and are cached.
// InvalidateTenantCache forces the route to be resolved again on next use.
//
// Example:
//
//	registry := tenant.NewPostgresRegistry(controlDB)
//	router, err := tenant.NewRouter(registry, tenant.NewPostgresFactory(poolCfg), tenant.Config{}, logger)
//	if err != nil {
//		return err
//	}
//	defer router.Close()
//
//	db, err := router.Get(ctx, claims.TenantID)
package tenant
