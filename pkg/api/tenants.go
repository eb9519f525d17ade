package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/httputil"
	"github.com/platinummonkey/tenantauth/pkg/middleware"
)

// TenantHandlers exposes per-tenant database checks
type TenantHandlers struct {
	provider middleware.TenantDBProvider
	logger   *logrus.Logger
}

// NewTenantHandlers creates tenant handlers
func NewTenantHandlers(provider middleware.TenantDBProvider, logger *logrus.Logger) *TenantHandlers {
	return &TenantHandlers{provider: provider, logger: logger}
}

// RegisterRoutes registers tenant routes on an authenticated router
func (h *TenantHandlers) RegisterRoutes(router *mux.Router) {
	health := middleware.TenantDB(h.provider, h.logger)(http.HandlerFunc(h.health))
	router.Handle("/v1/tenants/{tenant_id}/health", sameTenant(health)).Methods(http.MethodGet)
}

// sameTenant rejects requests whose {tenant_id} is not the caller's tenant
func sameTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := httputil.ParsePathStringOrError(w, r, "tenant_id")
		if !ok {
			return
		}
		claims := middleware.GetClaims(r)
		if !claims.IsMultiTenant() {
			httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
			return
		}
		if claims.TenantID != tenantID {
			httputil.WriteAuthError(w, auth.CodeForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// health handles GET /v1/tenants/{tenant_id}/health
func (h *TenantHandlers) health(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	db := middleware.GetTenantDB(r)

	start := time.Now()
	err := db.PingContext(r.Context())
	resp := TenantHealthResponse{
		TenantID:  claims.TenantID,
		Status:    "healthy",
		LatencyMS: time.Since(start).Milliseconds(),
	}
	if err != nil {
		h.logger.WithError(err).WithField("tenant_id", claims.TenantID).Warn("tenant database ping failed")
		resp.Status = "unhealthy"
		httputil.WriteJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	httputil.WriteSuccess(w, resp)
}
