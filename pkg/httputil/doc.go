// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteBadRequest(w, "tenant_id is required")
//	httputil.WriteAuthError(w, auth.CodeStoreForbidden) // 403 {"error":"...","code":"PERM002"}
//
// Auth errors expose only the machine code and its fixed message, never the
// internal reason for the failure.
//
// # Request Parsing
//
//	var req CheckRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return // Error response already written
//	}
//
// # Middleware
//
//	router.Use(httputil.RequestIDMiddleware)
//	router.Use(httputil.RecoveryMiddleware(logger))
//	router.Use(httputil.LoggingMiddleware(logger))
//
// # Related Packages
//
//   - pkg/middleware: Authentication and authorization middleware
package httputil
