package api

import (
	"time"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/permission"
)

// VerifyTokenRequest is the body of POST /v1/tokens/verify
type VerifyTokenRequest struct {
	Token string `json:"token"`
}

// ClaimsResponse is the public view of validated token claims
type ClaimsResponse struct {
	SubjectID          string    `json:"sub"`
	TenantID           string    `json:"tenant_id,omitempty"`
	TenantUserID       string    `json:"tenant_user_id,omitempty"`
	Email              string    `json:"email,omitempty"`
	Role               auth.Role `json:"role"`
	AccessibleStoreIDs []string  `json:"stores"`
	SessionID          string    `json:"session_id,omitempty"`
	IssuedAt           time.Time `json:"issued_at"`
	ExpiresAt          time.Time `json:"expires_at"`
	MultiTenant        bool      `json:"multi_tenant"`
}

func newClaimsResponse(c *auth.TokenClaims) ClaimsResponse {
	stores := c.Stores()
	if stores == nil {
		stores = []string{}
	}
	return ClaimsResponse{
		SubjectID:          c.SubjectID,
		TenantID:           c.TenantID,
		TenantUserID:       c.TenantUserID,
		Email:              c.Email,
		Role:               c.Role,
		AccessibleStoreIDs: stores,
		SessionID:          c.SessionID,
		IssuedAt:           c.IssuedAt,
		ExpiresAt:          c.ExpiresAt,
		MultiTenant:        c.IsMultiTenant(),
	}
}

// VerifyTokenResponse is returned for a valid token
type VerifyTokenResponse struct {
	Valid  bool           `json:"valid"`
	Claims ClaimsResponse `json:"claims"`
}

// CheckPermissionRequest is the body of POST /v1/permissions/check
type CheckPermissionRequest struct {
	Module  permission.Module `json:"module"`
	Action  permission.Action `json:"action"`
	StoreID string            `json:"store_id,omitempty"`
}

// CheckPermissionResponse reports a decision for the caller
type CheckPermissionResponse struct {
	Allowed   bool              `json:"allowed"`
	Reason    permission.Reason `json:"reason"`
	ErrorCode auth.ErrorCode    `json:"error_code,omitempty"`
}

// EffectivePermissionsResponse is returned by GET /v1/permissions/effective
type EffectivePermissionsResponse struct {
	Role        auth.Role                    `json:"role"`
	StoreID     string                       `json:"store_id,omitempty"`
	Permissions permission.ModulePermissions `json:"permissions"`
}

// InvalidateRequest is the body of POST /v1/permissions/invalidate. The tenant
// is always the caller's.
type InvalidateRequest struct {
	Kind    permission.EventKind `json:"kind"`
	UserID  string               `json:"user_id,omitempty"`
	Role    auth.Role            `json:"role,omitempty"`
	StoreID string               `json:"store_id,omitempty"`
}

// TenantHealthResponse is returned by GET /v1/tenants/{tenant_id}/health
type TenantHealthResponse struct {
	TenantID  string `json:"tenant_id"`
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
}
