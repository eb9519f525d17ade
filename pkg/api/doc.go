// Package api provides the HTTP surface of the authorization service.
//
// # Routes
//
//	POST   /v1/tokens/verify                 validate a token, return its claims
//	DELETE /v1/sessions/current              revoke the caller's session
//	POST   /v1/permissions/check             decide module/action for the caller
//	GET    /v1/permissions/effective         resolved module permissions for the caller
//	POST   /v1/permissions/invalidate        drop cached contexts (company manager and above)
//	GET    /v1/tenants/{tenant_id}/health    ping the caller's tenant database
//	GET    /metrics, /healthz, /livez
//
// Every route except token verification and the operational endpoints runs
// behind middleware.Authenticator. Invalidation is always scoped to the
// caller's tenant.
//
// # Usage
//
//	router := api.NewRouter(api.Dependencies{
//		Tokens:      tokenService,
//		Permissions: permissionService,
//		Invalidator: bus,
//		Tenants:     tenantRouter,
//		Logger:      logger,
//	})
package api
