package permcache

import "errors"

var (
	// ErrInvalidMaxEntries is returned when the configured size bound is not positive
	ErrInvalidMaxEntries = errors.New("max entries must be positive")
)
