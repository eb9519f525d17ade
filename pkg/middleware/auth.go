package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/contextkeys"
	"github.com/platinummonkey/tenantauth/pkg/httputil"
)

// DefaultCookieName is the cookie carrying the token when no Authorization header is sent
const DefaultCookieName = "auth_token"

// TokenValidator verifies tokens. *auth.TokenService implements it.
type TokenValidator interface {
	Validate(token string) (*auth.TokenClaims, error)
}

// SessionChecker confirms a session has not been revoked. *session.Store implements it.
type SessionChecker interface {
	IsActive(ctx context.Context, sessionID string) (bool, error)
}

// TokenRecorder counts token validation outcomes. *observability.Metrics implements it.
type TokenRecorder interface {
	RecordToken(outcome string)
}

// Token validation outcomes
const (
	TokenValid   = "valid"
	TokenMissing = "missing"
	TokenInvalid = "invalid"
	TokenRevoked = "revoked"
)

// Authenticator validates the request token and stores its claims in the context
type Authenticator struct {
	tokens     TokenValidator
	sessions   SessionChecker
	recorder   TokenRecorder
	cookieName string
	logger     *logrus.Logger
}

// NewAuthenticator creates an authenticator. An empty cookieName uses DefaultCookieName.
func NewAuthenticator(tokens TokenValidator, cookieName string, logger *logrus.Logger) *Authenticator {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	return &Authenticator{
		tokens:     tokens,
		cookieName: cookieName,
		logger:     defaultLogger(logger),
	}
}

// WithSessions makes the authenticator reject tokens whose session was revoked
func (a *Authenticator) WithSessions(sessions SessionChecker) *Authenticator {
	a.sessions = sessions
	return a
}

// WithRecorder reports every token validation outcome to recorder
func (a *Authenticator) WithRecorder(recorder TokenRecorder) *Authenticator {
	a.recorder = recorder
	return a
}

func (a *Authenticator) record(outcome string) {
	if a.recorder != nil {
		a.recorder.RecordToken(outcome)
	}
}

// Handler wraps an HTTP handler with authentication
func (a *Authenticator) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r, a.cookieName)
		if token == "" {
			a.record(TokenMissing)
			httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
			return
		}

		claims, err := a.tokens.Validate(token)
		if err != nil {
			a.record(TokenInvalid)
			httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
			return
		}

		if a.sessions != nil {
			active, err := a.sessions.IsActive(r.Context(), claims.SessionID)
			if err != nil {
				a.logger.WithError(err).WithField("tenant_id", claims.TenantID).Error("session lookup failed")
				httputil.WriteServiceUnavailable(w, "session store unavailable")
				return
			}
			if !active {
				a.record(TokenRevoked)
				httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
				return
			}
		}

		a.record(TokenValid)
		ctx := contextkeys.WithClaims(r.Context(), claims)
		ctx = contextkeys.WithUserID(ctx, claims.SubjectID)
		ctx = contextkeys.WithTenantID(ctx, claims.TenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ExtractToken returns the bearer token from the Authorization header, falling
// back to the named cookie
func ExtractToken(r *http.Request, cookieName string) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return ""
		}
		return strings.TrimSpace(parts[1])
	}

	if cookie, err := r.Cookie(cookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// GetClaims extracts validated claims from the request
func GetClaims(r *http.Request) *auth.TokenClaims {
	claims, ok := r.Context().Value(contextkeys.ClaimsKey).(*auth.TokenClaims)
	if !ok {
		return nil
	}
	return claims
}

// RequireMultiTenant rejects legacy tokens that carry no tenant_id
func RequireMultiTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !GetClaims(r).IsMultiTenant() {
			httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole rejects principals with less authority than role
func RequireRole(role auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r)
			if claims == nil {
				httputil.WriteAuthError(w, auth.CodeNotAuthenticated)
				return
			}
			if !auth.HasAuthority(claims.Role, role) {
				httputil.WriteAuthError(w, auth.CodeForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
