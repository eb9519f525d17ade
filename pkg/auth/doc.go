// Package auth provides session token issuance and verification and the tenant
// role hierarchy.
//
// # Overview
//
// Every request presents an HS256-signed token carrying the principal, its
// tenant, its role, and the stores it may work in. TokenService is the only
// component that creates or verifies these tokens; everything downstream
// consumes the immutable TokenClaims it returns.
//
// # Tokens
//
// Wire format: header.payload.signature, each segment base64url. Payload fields:
//
//	sub             principal id
//	tenant_id       tenant id (absent on legacy tokens)
//	tenant_user_id  tenant-scoped user id
//	email
//	role            owner | company_manager | store_manager | salesperson
//	stores          accessible store ids
//	session_id
//	iat, exp        Unix seconds; exp = iat + 8h
//
// Issue and verify:
//
//	ts, err := auth.NewTokenService(secret, logger)
//	token, claims, err := ts.Generate(auth.ClaimsInput{
//		SubjectID: "u-1",
//		TenantID:  "t-1",
//		Role:      auth.RoleStoreManager,
//		AccessibleStoreIDs: []string{"s-1"},
//	})
//
//	claims, err := ts.Validate(token)
//	if err != nil {
//		// always auth.ErrInvalidToken; respond with AUTH001
//	}
//
// Validation fails closed: a malformed token, a signature mismatch, an expired
// token, or an unknown role all return ErrInvalidToken. The reason is logged at
// debug level and never returned.
//
// Legacy tokens use userId/tenantId instead of sub/tenant_id. They decode, but
// IsMultiTenant reports false for them.
//
// # Roles
//
//	owner (4) > company_manager (3) > store_manager (2) > salesperson (1)
//
// CanManage governs mutation authority over other users:
//
//	owner            manages every role, other owners included
//	company_manager  manages company_manager and below
//	store_manager    manages salesperson
//	salesperson      manages nobody
//
// CanView governs which users appear in listings and is deliberately separate
// from CanManage.
//
// # Error Codes
//
//	AUTH001  not authenticated          401
//	PERM001  insufficient permission    403
//	PERM002  store not accessible       403
//
// # Related Packages
//
//   - pkg/permission: Module/action permission resolution
//   - pkg/session: Session revocation
//   - pkg/middleware: HTTP token extraction
package auth
