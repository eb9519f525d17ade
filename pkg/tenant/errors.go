package tenant

import "errors"

var (
	// ErrMissingTenant is returned when a tenant id is empty
	ErrMissingTenant = errors.New("tenant id is required")

	// ErrTenantNotFound is returned when a tenant has no active route
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrRouterClosed is returned by Get after Close
	ErrRouterClosed = errors.New("tenant router is closed")

	// ErrPoolLimit is returned when MaxPools is reached and every slot is still being created
	ErrPoolLimit = errors.New("tenant pool limit reached")
)
