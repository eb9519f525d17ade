package api

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/httputil"
	"github.com/platinummonkey/tenantauth/pkg/middleware"
	"github.com/platinummonkey/tenantauth/pkg/permission"
)

// PermissionResolver answers permission questions. *permission.Service implements it.
type PermissionResolver interface {
	middleware.PermissionChecker
	EffectivePermissions(ctx context.Context, userID, tenantID, storeID string) (permission.ModulePermissions, error)
}

// Invalidator drops cached permission contexts. *permission.InvalidationBus
// implements it across instances; LocalInvalidator covers a single instance.
type Invalidator interface {
	Publish(ctx context.Context, event permission.Event) error
}

// InvalidatorFunc adapts a function to the Invalidator interface
type InvalidatorFunc func(ctx context.Context, event permission.Event) error

// Publish calls f
func (f InvalidatorFunc) Publish(ctx context.Context, event permission.Event) error {
	return f(ctx, event)
}

// LocalInvalidator applies invalidations to svc only
func LocalInvalidator(svc *permission.Service) Invalidator {
	return InvalidatorFunc(func(_ context.Context, event permission.Event) error {
		_, err := svc.Apply(event)
		return err
	})
}

// PermissionHandlers handles permission queries and cache invalidation
type PermissionHandlers struct {
	resolver    PermissionResolver
	invalidator Invalidator
	logger      *logrus.Logger
}

// NewPermissionHandlers creates permission handlers
func NewPermissionHandlers(resolver PermissionResolver, invalidator Invalidator, logger *logrus.Logger) *PermissionHandlers {
	return &PermissionHandlers{
		resolver:    resolver,
		invalidator: invalidator,
		logger:      logger,
	}
}

// RegisterRoutes registers permission routes. Every route requires an
// authenticated caller. Invalidation also requires a tenant-scoped token with
// company manager authority, since an empty tenant would reach every tenant.
func (h *PermissionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/permissions/check", h.checkPermission).Methods(http.MethodPost)
	router.HandleFunc("/v1/permissions/effective", h.effectivePermissions).Methods(http.MethodGet)
	router.Handle("/v1/permissions/invalidate",
		middleware.RequireMultiTenant(middleware.RequireRole(auth.RoleCompanyManager)(http.HandlerFunc(h.invalidate))),
	).Methods(http.MethodPost)
}

// checkPermission handles POST /v1/permissions/check
func (h *PermissionHandlers) checkPermission(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)

	var req CheckPermissionRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !slices.Contains(permission.AllModules(), req.Module) {
		httputil.WriteBadRequest(w, "unknown module")
		return
	}
	if !slices.Contains(permission.AllActions(), req.Action) {
		httputil.WriteBadRequest(w, "unknown action")
		return
	}

	result, err := h.resolver.CheckPermission(r.Context(), claims.SubjectID, claims.TenantID, req.Module, req.Action, req.StoreID)
	if err != nil {
		h.logger.WithError(err).WithField("tenant_id", claims.TenantID).Error("permission check failed")
		httputil.WriteServiceUnavailable(w, "authorization unavailable")
		return
	}

	httputil.WriteSuccess(w, CheckPermissionResponse{
		Allowed:   result.Allowed,
		Reason:    result.Reason,
		ErrorCode: result.ErrorCode,
	})
}

// effectivePermissions handles GET /v1/permissions/effective
func (h *PermissionHandlers) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	storeID := middleware.ExtractStoreID(r)

	perms, err := h.resolver.EffectivePermissions(r.Context(), claims.SubjectID, claims.TenantID, storeID)
	switch {
	case errors.Is(err, permission.ErrContextNotFound), errors.Is(err, permission.ErrTenantMismatch):
		httputil.WriteAuthError(w, auth.CodeForbidden)
		return
	case err != nil:
		h.logger.WithError(err).WithField("tenant_id", claims.TenantID).Error("effective permissions failed")
		httputil.WriteServiceUnavailable(w, "authorization unavailable")
		return
	}

	httputil.WriteSuccess(w, EffectivePermissionsResponse{
		Role:        claims.Role,
		StoreID:     storeID,
		Permissions: perms,
	})
}

// invalidate handles POST /v1/permissions/invalidate
func (h *PermissionHandlers) invalidate(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)

	var req InvalidateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	event := permission.Event{
		Kind:     req.Kind,
		UserID:   req.UserID,
		TenantID: claims.TenantID,
		Role:     req.Role,
		StoreID:  req.StoreID,
	}

	err := h.invalidator.Publish(r.Context(), event)
	switch {
	case errors.Is(err, permission.ErrInvalidEvent):
		httputil.WriteBadRequest(w, err.Error())
		return
	case err != nil:
		// The local cache was already invalidated; other instances may be stale
		h.logger.WithError(err).WithField("tenant_id", claims.TenantID).Error("failed to broadcast invalidation")
		httputil.WriteServiceUnavailable(w, "invalidation broadcast failed")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": claims.TenantID,
		"kind":      req.Kind,
		"user_id":   claims.SubjectID,
	}).Info("permission cache invalidated")
	w.WriteHeader(http.StatusNoContent)
}
