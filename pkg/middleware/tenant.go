package middleware

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/contextkeys"
	"github.com/platinummonkey/tenantauth/pkg/httputil"
	"github.com/platinummonkey/tenantauth/pkg/tenant"
)

// TenantDBProvider returns the database of a tenant. *tenant.Router implements it.
type TenantDBProvider interface {
	Get(ctx context.Context, tenantID string) (*sql.DB, error)
}

// TenantDB adds the authenticated tenant's database to the request context.
// Legacy tokens and unknown tenants are rejected as unauthenticated.
func TenantDB(provider TenantDBProvider, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if !claims.IsMultiTenant() {
				httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
				return
			}

			db, err := provider.Get(r.Context(), claims.TenantID)
			if errors.Is(err, tenant.ErrTenantNotFound) {
				httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
				return
			}
			if err != nil {
				logger.WithError(err).WithField("tenant_id", claims.TenantID).Error("tenant database unavailable")
				httputil.WriteServiceUnavailable(w, "tenant database unavailable")
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithTenantDB(r.Context(), db)))
		})
	}
}

// GetTenantDB extracts the tenant database from the request
func GetTenantDB(r *http.Request) *sql.DB {
	db, ok := r.Context().Value(contextkeys.TenantDBKey).(*sql.DB)
	if !ok {
		return nil
	}
	return db
}
