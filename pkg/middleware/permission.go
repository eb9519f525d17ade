package middleware

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/contextkeys"
	"github.com/platinummonkey/tenantauth/pkg/httputil"
	"github.com/platinummonkey/tenantauth/pkg/permission"
)

const (
	// StoreIDHeader scopes a request to one store
	StoreIDHeader = "X-Store-Id"

	// StoreIDQueryParam is the query parameter alternative to StoreIDHeader
	StoreIDQueryParam = "store_id"
)

// PermissionChecker makes authorization decisions. *permission.Service implements it.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID, tenantID string, module permission.Module, action permission.Action, storeID string) (permission.Result, error)
	CheckStoreAccess(ctx context.Context, userID, tenantID, storeID string) (permission.Result, error)
}

// ExtractStoreID returns the store scope of a request from the X-Store-Id
// header or the store_id query parameter
func ExtractStoreID(r *http.Request) string {
	if id := r.Header.Get(StoreIDHeader); id != "" {
		return id
	}
	return r.URL.Query().Get(StoreIDQueryParam)
}

// RequirePermission allows the request only if the principal may perform
// action on module, scoped to the request's store when one is given
func RequirePermission(checker PermissionChecker, module permission.Module, action permission.Action, logger *logrus.Logger) func(http.Handler) http.Handler {
	logger = defaultLogger(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
				return
			}

			result, err := checker.CheckPermission(r.Context(), claims.SubjectID, claims.TenantID, module, action, ExtractStoreID(r))
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"tenant_id": claims.TenantID,
					"module":    module,
					"action":    action,
				}).Error("permission check failed")
				httputil.WriteServiceUnavailable(w, "authorization unavailable")
				return
			}
			if !result.Allowed {
				httputil.WriteAuthError(w, result.ErrorCode)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireStoreAccess allows the request only if it names a store the principal
// can reach, and stores that store id in the context
func RequireStoreAccess(checker PermissionChecker, logger *logrus.Logger) func(http.Handler) http.Handler {
	logger = defaultLogger(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
				return
			}

			storeID := ExtractStoreID(r)
			result, err := checker.CheckStoreAccess(r.Context(), claims.SubjectID, claims.TenantID, storeID)
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"tenant_id": claims.TenantID,
					"store_id":  storeID,
				}).Error("store access check failed")
				httputil.WriteServiceUnavailable(w, "authorization unavailable")
				return
			}
			if !result.Allowed {
				httputil.WriteAuthError(w, result.ErrorCode)
				return
			}

			next.ServeHTTP(w, r.WithContext(contextkeys.WithStoreID(r.Context(), storeID)))
		})
	}
}

func defaultLogger(logger *logrus.Logger) *logrus.Logger {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return logger
}
