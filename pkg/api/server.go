package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantauth/pkg/httputil"
	"github.com/platinummonkey/tenantauth/pkg/middleware"
	"github.com/platinummonkey/tenantauth/pkg/observability"
)

// Dependencies are the services the HTTP API is built from. Sessions, Metrics,
// Health, and RateLimiter are optional.
type Dependencies struct {
	Tokens      middleware.TokenValidator
	Sessions    SessionStore
	Permissions PermissionResolver
	Invalidator Invalidator
	Tenants     middleware.TenantDBProvider

	Metrics *observability.Metrics
	Health  *observability.HealthChecker

	RateLimiter     middleware.Limiter
	RateLimitBackup middleware.Limiter
	RateLimit       middleware.RateLimitConfig

	CookieName string
	Logger     *logrus.Logger
}

// NewRouter assembles the HTTP API
func NewRouter(deps Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}

	router := mux.NewRouter()
	router.Use(httputil.RecoveryMiddleware(logger))
	router.Use(httputil.RequestIDMiddleware)
	router.Use(httputil.LoggingMiddleware(logger))
	router.Use(otelhttp.NewMiddleware("tenantauth", otelhttp.WithSpanNameFormatter(spanName)))

	var tokenRecorder middleware.TokenRecorder
	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
		router.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)
		tokenRecorder = deps.Metrics
	}

	if deps.Health != nil {
		router.HandleFunc("/healthz", deps.Health.Readiness).Methods(http.MethodGet)
		router.HandleFunc("/livez", deps.Health.Liveness).Methods(http.MethodGet)
	}

	tokens := NewTokenHandlers(deps.Tokens, deps.Sessions, tokenRecorder, logger)
	tokens.RegisterPublicRoutes(router)

	authn := middleware.NewAuthenticator(deps.Tokens, deps.CookieName, logger).WithRecorder(tokenRecorder)
	if deps.Sessions != nil {
		authn = authn.WithSessions(deps.Sessions)
	}

	authed := router.NewRoute().Subrouter()
	authed.Use(authn.Handler)
	if deps.RateLimiter != nil {
		authed.Use(middleware.RateLimit(deps.RateLimiter, deps.RateLimitBackup, deps.RateLimit, logger))
	}

	tokens.RegisterRoutes(authed)
	NewPermissionHandlers(deps.Permissions, deps.Invalidator, logger).RegisterRoutes(authed)
	NewTenantHandlers(deps.Tenants, logger).RegisterRoutes(authed)

	return router
}

// spanName names server spans after the matched route template
func spanName(_ string, r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return r.Method + " " + tpl
		}
	}
	return r.Method
}
