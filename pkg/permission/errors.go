package permission

import "errors"

var (
	// ErrContextNotFound is returned by a UserDirectory when the user has no
	// membership in the tenant
	ErrContextNotFound = errors.New("permission context not found")

	// ErrTenantMismatch is returned when a loaded context belongs to a different
	// tenant or user than requested
	ErrTenantMismatch = errors.New("permission context tenant mismatch")

	// ErrMissingUser is returned when a check is made without a user id
	ErrMissingUser = errors.New("user id is required")

	// ErrNilDirectory is returned when a service is created without a directory
	ErrNilDirectory = errors.New("user directory is required")

	// ErrInvalidEvent is returned for invalidation events missing required fields
	ErrInvalidEvent = errors.New("invalid invalidation event")
)
