package auth

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidToken is returned for every token that fails validation.
	// The cause is logged server-side only.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnknownRole is returned when a role string is not a known role
	ErrUnknownRole = errors.New("unknown role")

	// ErrWeakSecret is returned when the signing secret is too short
	ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")

	// ErrMissingSubject is returned when claims to be signed carry no subject
	ErrMissingSubject = errors.New("subject is required")
)

// ErrorCode is a stable machine-readable error code surfaced to API callers
type ErrorCode string

const (
	CodeNotAuthenticated ErrorCode = "AUTH001" // Missing or invalid token
	CodeForbidden        ErrorCode = "PERM001" // Role or module permission insufficient
	CodeStoreForbidden   ErrorCode = "PERM002" // No access to the requested store
)

// HTTPStatus returns the HTTP status callers map the code to
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case CodeNotAuthenticated:
		return http.StatusUnauthorized
	case CodeForbidden, CodeStoreForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the user-facing message for the code
func (c ErrorCode) Message() string {
	switch c {
	case CodeNotAuthenticated:
		return "authentication required"
	case CodeForbidden:
		return "insufficient permissions"
	case CodeStoreForbidden:
		return "no access to the requested store"
	default:
		return "internal error"
	}
}
