// Package middleware provides HTTP middleware for authentication, authorization,
// and tenant routing.
//
// # Middleware Components
//
// Authenticator: token authentication
//
//	authn := middleware.NewAuthenticator(tokenService, "auth_token", logger).WithSessions(sessionStore)
//	router.Use(authn.Handler)
//	// Reads "Authorization: Bearer <token>" or the auth cookie, validates it,
//	// and adds the claims to the request context
//
// RequirePermission / RequireStoreAccess: authorization guards
//
//	r.Handle("/products", middleware.RequirePermission(permSvc, permission.ModuleProducts, permission.ActionEdit, logger)(h))
//	// Store scope comes from the X-Store-Id header or the store_id query parameter
//
// TenantDB: per-tenant database injection
//
//	router.Use(middleware.TenantDB(tenantRouter, logger))
//	db := middleware.GetTenantDB(r)
//
// # Error Responses
//
// Failures respond with a JSON body carrying only a machine code:
//
//	401 AUTH001  missing, invalid, expired, or revoked token
//	403 PERM001  module permission denied
//	403 PERM002  store not accessible
//
// Resource failures (directory, session store, tenant database) respond 503 so
// clients can retry.
//
// # Related Packages
//
//   - pkg/auth: token and role model
//   - pkg/permission: authorization decisions
//   - pkg/tenant: tenant database routing
package middleware
