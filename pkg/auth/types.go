package auth

import (
	"slices"
	"time"
)

// TokenValidity is the fixed lifetime of every issued token
const TokenValidity = 8 * time.Hour

// ClaimsInput holds the caller-supplied claims for a new token
type ClaimsInput struct {
	SubjectID          string   `json:"sub"`
	TenantID           string   `json:"tenant_id,omitempty"`
	TenantUserID       string   `json:"tenant_user_id,omitempty"`
	Email              string   `json:"email,omitempty"`
	Role               Role     `json:"role"`
	AccessibleStoreIDs []string `json:"stores,omitempty"`
	SessionID          string   `json:"session_id,omitempty"`
}

// TokenClaims is the decoded, validated claim set of a token. It is never
// modified after validation.
type TokenClaims struct {
	SubjectID          string    `json:"sub"`
	TenantID           string    `json:"tenant_id,omitempty"`
	TenantUserID       string    `json:"tenant_user_id,omitempty"`
	Email              string    `json:"email,omitempty"`
	Role               Role      `json:"role"`
	AccessibleStoreIDs []string  `json:"stores,omitempty"`
	SessionID          string    `json:"session_id,omitempty"`
	IssuedAt           time.Time `json:"iat"`
	ExpiresAt          time.Time `json:"exp"`

	// LegacyTenantID carries the tenantId field of pre multi-tenant tokens.
	// It is informational and never makes a claim set multi-tenant.
	LegacyTenantID string `json:"legacy_tenant_id,omitempty"`
}

// IsMultiTenant reports whether the claims carry a tenant id
func (c *TokenClaims) IsMultiTenant() bool {
	return c != nil && c.TenantID != ""
}

// HasStore reports whether storeID is listed in the token's accessible stores
func (c *TokenClaims) HasStore(storeID string) bool {
	if c == nil || storeID == "" {
		return false
	}
	return slices.Contains(c.AccessibleStoreIDs, storeID)
}

// Stores returns a copy of the accessible store ids
func (c *TokenClaims) Stores() []string {
	if c == nil {
		return nil
	}
	return slices.Clone(c.AccessibleStoreIDs)
}

// IsMultiTenant reports whether claims belong to a multi-tenant principal
func IsMultiTenant(claims *TokenClaims) bool {
	return claims.IsMultiTenant()
}
