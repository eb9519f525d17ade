// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/tenantauth/pkg/contextkeys"
//	ctx = contextkeys.WithClaims(ctx, claims)
//	claims := ctx.Value(contextkeys.ClaimsKey).(*auth.TokenClaims)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ClaimsKey contains *auth.TokenClaims
	// Set by: middleware.Authenticator (pkg/middleware/auth.go)
	// Required by: Permission guards, tenant DB injection, protected handlers
	// Type: *auth.TokenClaims
	ClaimsKey Key = "claims"

	// TenantDBKey contains the tenant's *sql.DB
	// Set by: middleware.TenantDB (pkg/middleware/tenant.go)
	// Used by: Tenant-scoped handlers
	// Type: *sql.DB
	TenantDBKey Key = "tenant_db"

	// StoreIDKey contains the store scope of the request
	// Set by: middleware.RequireStoreAccess (pkg/middleware/permission.go)
	// Used by: Store-scoped handlers
	// Type: string
	StoreIDKey Key = "store_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: httputil.RequestIDMiddleware
	// Used by: Logger, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated subject id
	// Set by: Auth middleware after token validation
	// Used by: Logger, user-scoped operations
	// Type: string
	UserIDKey Key = "user_id"

	// TenantIDKey contains the authenticated tenant id
	// Set by: Auth middleware after token validation
	// Used by: Logger, tenant-scoped operations
	// Type: string
	TenantIDKey Key = "tenant_id"
)

// Helper functions for type-safe context operations

// WithClaims adds validated token claims to the context
func WithClaims(ctx context.Context, claims interface{}) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}

// WithTenantDB adds the tenant database to the context
func WithTenantDB(ctx context.Context, db interface{}) context.Context {
	return context.WithValue(ctx, TenantDBKey, db)
}

// WithStoreID adds the request's store scope to the context
func WithStoreID(ctx context.Context, storeID string) context.Context {
	return context.WithValue(ctx, StoreIDKey, storeID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithTenantID adds tenant ID to the context
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, TenantIDKey, tenantID)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetTenantID retrieves tenant ID from context
func GetTenantID(ctx context.Context) string {
	if tenantID, ok := ctx.Value(TenantIDKey).(string); ok {
		return tenantID
	}
	return ""
}

// GetStoreID retrieves the store scope from context
func GetStoreID(ctx context.Context) string {
	if storeID, ok := ctx.Value(StoreIDKey).(string); ok {
		return storeID
	}
	return ""
}
