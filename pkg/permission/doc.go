// Package permission resolves authorization decisions for users within tenants.
//
// A decision for (user, module, action, store) is made against the user's
// PermissionContext, loaded from a UserDirectory and cached per tenant and user.
// Three permission tiers shadow each other, most specific first:
//
//  1. a store override for the module, when a store is given and overridden
//  2. custom per-user permissions, when present (an empty map grants nothing)
//  3. the role defaults
//
// Owners are allowed unconditionally. Every failure to establish a context is a
// denial; directory errors are additionally returned to the caller.
//
// # Error codes
//
// Module denials carry PERM001 and store denials carry PERM002, so callers can
// map a Result straight onto an HTTP response.
//
// # Invalidation
//
// Callers that change a user's role, custom permissions, or store assignment
// must invalidate the cache. InvalidationBus does this across instances through
// Redis pub/sub:
//
//	bus := permission.NewInvalidationBus(svc, redisClient, "", logger)
//	go bus.Run(ctx, nil)
//	bus.InvalidateUser(ctx, "user-1", "tenant-a")
package permission
