package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/contextkeys"
	"github.com/platinummonkey/tenantauth/pkg/httputil"
	"github.com/platinummonkey/tenantauth/pkg/middleware"
)

// SessionStore checks and revokes sessions. *session.Store implements it.
type SessionStore interface {
	middleware.SessionChecker
	Revoke(ctx context.Context, sessionID string) error
}

// TokenHandlers handles token verification and session logout
type TokenHandlers struct {
	tokens   middleware.TokenValidator
	sessions SessionStore
	recorder middleware.TokenRecorder
	logger   *logrus.Logger
}

// NewTokenHandlers creates token handlers. sessions and recorder may be nil.
func NewTokenHandlers(tokens middleware.TokenValidator, sessions SessionStore, recorder middleware.TokenRecorder, logger *logrus.Logger) *TokenHandlers {
	return &TokenHandlers{
		tokens:   tokens,
		sessions: sessions,
		recorder: recorder,
		logger:   logger,
	}
}

// RegisterPublicRoutes registers routes that take the token in the body
func (h *TokenHandlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/v1/tokens/verify", h.verifyToken).Methods(http.MethodPost)
}

// RegisterRoutes registers routes that require an authenticated caller
func (h *TokenHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/v1/sessions/current", h.revokeCurrentSession).Methods(http.MethodDelete)
}

// verifyToken handles POST /v1/tokens/verify
func (h *TokenHandlers) verifyToken(w http.ResponseWriter, r *http.Request) {
	var req VerifyTokenRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Token, "token") {
		return
	}

	claims, err := h.tokens.Validate(req.Token)
	if err != nil {
		h.record(middleware.TokenInvalid)
		httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
		return
	}

	if h.sessions != nil {
		active, err := h.sessions.IsActive(r.Context(), claims.SessionID)
		if err != nil {
			h.logger.WithError(err).Error("session lookup failed")
			httputil.WriteServiceUnavailable(w, "session store unavailable")
			return
		}
		if !active {
			h.record(middleware.TokenRevoked)
			httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
			return
		}
	}

	h.record(middleware.TokenValid)
	httputil.WriteSuccess(w, VerifyTokenResponse{Valid: true, Claims: newClaimsResponse(claims)})
}

// revokeCurrentSession handles DELETE /v1/sessions/current
func (h *TokenHandlers) revokeCurrentSession(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaims(r)
	if h.sessions == nil {
		httputil.WriteErrorMessage(w, http.StatusNotImplemented, "sessions are not enabled")
		return
	}

	if err := h.sessions.Revoke(r.Context(), claims.SessionID); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"tenant_id":  claims.TenantID,
			"request_id": contextkeys.GetRequestID(r.Context()),
		}).Error("failed to revoke session")
		httputil.WriteServiceUnavailable(w, "session store unavailable")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *TokenHandlers) record(outcome string) {
	if h.recorder != nil {
		h.recorder.RecordToken(outcome)
	}
}
