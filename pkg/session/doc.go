// Package session tracks issued tokens in Redis so they can be revoked before
// they expire.
//
// Token validation is stateless; callers that need revocation check both the
// token and IsActive for its session id.
package session
