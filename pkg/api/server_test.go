package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/httputil"
	"github.com/platinummonkey/tenantauth/pkg/middleware"
	"github.com/platinummonkey/tenantauth/pkg/observability"
	"github.com/platinummonkey/tenantauth/pkg/permcache"
	"github.com/platinummonkey/tenantauth/pkg/permission"
	"github.com/platinummonkey/tenantauth/pkg/session"
	"github.com/platinummonkey/tenantauth/pkg/tenant"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

type staticDirectory struct {
	mu    sync.Mutex
	users map[string]*permission.PermissionContext
	loads int
}

func (d *staticDirectory) LoadContext(_ context.Context, userID, tenantID string) (*permission.PermissionContext, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.loads++
	pc, ok := d.users[tenantID+":"+userID]
	if !ok {
		return nil, permission.ErrContextNotFound
	}
	cp := *pc
	return &cp, nil
}

func (d *staticDirectory) LoadAccessibleStores(_ context.Context, userID, tenantID string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pc, ok := d.users[tenantID+":"+userID]; ok {
		return pc.AccessibleStoreIDs, nil
	}
	return []string{}, nil
}

func (d *staticDirectory) loadCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loads
}

type dbProvider map[string]*sql.DB

func (p dbProvider) Get(_ context.Context, tenantID string) (*sql.DB, error) {
	db, ok := p[tenantID]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return db, nil
}

type testEnv struct {
	router    http.Handler
	tokens    *auth.TokenService
	sessions  *session.Store
	directory *staticDirectory
	dbMock    sqlmock.Sqlmock
	metrics   *observability.Metrics
}

func newTestEnv(t *testing.T, configure func(*Dependencies)) *testEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tokens, err := auth.NewTokenService(testSecret, logger)
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sessions := session.NewStore(client, "", logger)

	directory := &staticDirectory{users: map[string]*permission.PermissionContext{
		"tenant-a:user-s": {UserID: "user-s", TenantID: "tenant-a", Role: auth.RoleSalesperson, AccessibleStoreIDs: []string{"store-1"}},
		"tenant-a:user-m": {UserID: "user-m", TenantID: "tenant-a", Role: auth.RoleCompanyManager},
	}}
	svc, err := permission.NewService(directory, permission.Config{
		Cache: permcache.Config{CleanupInterval: -1},
	}, logger)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	metrics := observability.NewMetrics(nil)
	svc.SetRecorder(metrics)

	deps := Dependencies{
		Tokens:      tokens,
		Sessions:    sessions,
		Permissions: svc,
		Invalidator: LocalInvalidator(svc),
		Tenants:     dbProvider{"tenant-a": db},
		Metrics:     metrics,
		Health:      observability.NewHealthChecker(nil, client, "test"),
		Logger:      logger,
	}
	if configure != nil {
		configure(&deps)
	}

	return &testEnv{
		router:    NewRouter(deps),
		tokens:    tokens,
		sessions:  sessions,
		directory: directory,
		dbMock:    mock,
		metrics:   metrics,
	}
}

// login issues a token with a live session
func (e *testEnv) login(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	token, claims, err := e.tokens.Generate(auth.ClaimsInput{
		SubjectID:          userID,
		TenantID:           "tenant-a",
		Role:               role,
		AccessibleStoreIDs: []string{"store-1"},
	})
	require.NoError(t, err)
	require.NoError(t, e.sessions.Create(context.Background(), claims))
	return token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) auth.ErrorCode {
	t.Helper()
	var resp httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Code
}

func TestVerifyToken(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "user-s", auth.RoleSalesperson)

	t.Run("valid", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/tokens/verify", "", VerifyTokenRequest{Token: token})
		require.Equal(t, http.StatusOK, w.Code)

		var resp VerifyTokenResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.True(t, resp.Valid)
		assert.Equal(t, "user-s", resp.Claims.SubjectID)
		assert.Equal(t, "tenant-a", resp.Claims.TenantID)
		assert.Equal(t, auth.RoleSalesperson, resp.Claims.Role)
		assert.Equal(t, []string{"store-1"}, resp.Claims.AccessibleStoreIDs)
		assert.True(t, resp.Claims.MultiTenant)
		assert.Equal(t, 8*time.Hour, resp.Claims.ExpiresAt.Sub(resp.Claims.IssuedAt))
	})

	t.Run("invalid", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/tokens/verify", "", VerifyTokenRequest{Token: token + "x"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, auth.CodeNotAuthenticated, errorCode(t, w))
	})

	t.Run("missing", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/tokens/verify", "", VerifyTokenRequest{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("no session", func(t *testing.T) {
		orphan, _, err := env.tokens.Generate(auth.ClaimsInput{SubjectID: "user-s", TenantID: "tenant-a", Role: auth.RoleSalesperson})
		require.NoError(t, err)
		w := env.do(t, http.MethodPost, "/v1/tokens/verify", "", VerifyTokenRequest{Token: orphan})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestRevokeCurrentSession(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "user-s", auth.RoleSalesperson)

	w := env.do(t, http.MethodDelete, "/v1/sessions/current", token, nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, "/v1/permissions/check", token, CheckPermissionRequest{Module: permission.ModuleProducts, Action: permission.ActionView})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodPost, "/v1/tokens/verify", "", VerifyTokenRequest{Token: token})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckPermission(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "user-s", auth.RoleSalesperson)

	check := func(module permission.Module, action permission.Action) CheckPermissionResponse {
		w := env.do(t, http.MethodPost, "/v1/permissions/check", token, CheckPermissionRequest{Module: module, Action: action})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var resp CheckPermissionResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		return resp
	}

	assert.True(t, check(permission.ModuleProducts, permission.ActionView).Allowed)
	assert.True(t, check(permission.ModulePOS, permission.ActionAdd).Allowed)

	denied := check(permission.ModuleProducts, permission.ActionDelete)
	assert.False(t, denied.Allowed)
	assert.Equal(t, permission.ReasonActionNotPermitted, denied.Reason)
	assert.Equal(t, auth.CodeForbidden, denied.ErrorCode)

	w := env.do(t, http.MethodPost, "/v1/permissions/check", token, map[string]string{"module": "payroll", "action": "view"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/v1/permissions/check", "", CheckPermissionRequest{Module: permission.ModuleProducts, Action: permission.ActionView})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.CodeNotAuthenticated, errorCode(t, w))
}

func TestEffectivePermissions(t *testing.T) {
	env := newTestEnv(t, nil)

	token := env.login(t, "user-s", auth.RoleSalesperson)
	w := env.do(t, http.MethodGet, "/v1/permissions/effective?store_id=store-1", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp EffectivePermissionsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, auth.RoleSalesperson, resp.Role)
	assert.Equal(t, "store-1", resp.StoreID)
	assert.True(t, resp.Permissions[permission.ModuleSales].Has(permission.ActionAdd))
	assert.False(t, resp.Permissions[permission.ModuleUsers].Has(permission.ActionView))

	// A valid token for a user the directory does not know
	stranger := env.login(t, "user-x", auth.RoleOwner)
	w = env.do(t, http.MethodGet, "/v1/permissions/effective", stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestInvalidate(t *testing.T) {
	env := newTestEnv(t, nil)
	sales := env.login(t, "user-s", auth.RoleSalesperson)
	manager := env.login(t, "user-m", auth.RoleCompanyManager)

	w := env.do(t, http.MethodPost, "/v1/permissions/check", sales, CheckPermissionRequest{Module: permission.ModuleProducts, Action: permission.ActionView})
	require.Equal(t, http.StatusOK, w.Code)
	loads := env.directory.loadCount()

	t.Run("requires company manager", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/permissions/invalidate", sales, InvalidateRequest{Kind: permission.EventUser, UserID: "user-s"})
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, auth.CodeForbidden, errorCode(t, w))
	})

	t.Run("invalid event", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/permissions/invalidate", manager, InvalidateRequest{Kind: "planet"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("user invalidation forces reload", func(t *testing.T) {
		w := env.do(t, http.MethodPost, "/v1/permissions/invalidate", manager, InvalidateRequest{Kind: permission.EventUser, UserID: "user-s"})
		require.Equal(t, http.StatusNoContent, w.Code)

		w = env.do(t, http.MethodPost, "/v1/permissions/check", sales, CheckPermissionRequest{Module: permission.ModuleProducts, Action: permission.ActionView})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, loads+1, env.directory.loadCount())
	})

	t.Run("legacy token cannot invalidate across tenants", func(t *testing.T) {
		env := newTestEnv(t, func(d *Dependencies) { d.Sessions = nil })
		sales := env.login(t, "user-s", auth.RoleSalesperson)
		legacy, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"userId":   "user-m",
			"tenantId": "tenant-a",
			"role":     string(auth.RoleCompanyManager),
			"iat":      time.Now().Unix(),
			"exp":      time.Now().Add(time.Hour).Unix(),
		}).SignedString(testSecret)
		require.NoError(t, err)

		w := env.do(t, http.MethodPost, "/v1/permissions/check", sales, CheckPermissionRequest{Module: permission.ModuleProducts, Action: permission.ActionView})
		require.Equal(t, http.StatusOK, w.Code)
		before := env.directory.loadCount()

		var verified VerifyTokenResponse
		w = env.do(t, http.MethodPost, "/v1/tokens/verify", "", VerifyTokenRequest{Token: legacy})
		require.Equal(t, http.StatusOK, w.Code)
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verified))
		require.True(t, verified.Valid)
		assert.Empty(t, verified.Claims.TenantID)

		w = env.do(t, http.MethodPost, "/v1/permissions/invalidate", legacy, InvalidateRequest{Kind: permission.EventRole, Role: auth.RoleSalesperson})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, auth.CodeNotAuthenticated, errorCode(t, w))

		w = env.do(t, http.MethodPost, "/v1/permissions/check", sales, CheckPermissionRequest{Module: permission.ModuleProducts, Action: permission.ActionView})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, before, env.directory.loadCount(), "cached context survives")
	})

	t.Run("broadcast failure", func(t *testing.T) {
		env := newTestEnv(t, func(d *Dependencies) {
			d.Invalidator = InvalidatorFunc(func(context.Context, permission.Event) error {
				return errors.New("redis down")
			})
		})
		manager := env.login(t, "user-m", auth.RoleCompanyManager)
		w := env.do(t, http.MethodPost, "/v1/permissions/invalidate", manager, InvalidateRequest{Kind: permission.EventTenant})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestTenantHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	token := env.login(t, "user-s", auth.RoleSalesperson)

	t.Run("healthy", func(t *testing.T) {
		env.dbMock.ExpectPing()
		w := env.do(t, http.MethodGet, "/v1/tenants/tenant-a/health", token, nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp TenantHealthResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "tenant-a", resp.TenantID)
		assert.Equal(t, "healthy", resp.Status)
	})

	t.Run("unhealthy", func(t *testing.T) {
		env.dbMock.ExpectPing().WillReturnError(errors.New("connection reset"))
		w := env.do(t, http.MethodGet, "/v1/tenants/tenant-a/health", token, nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("other tenant", func(t *testing.T) {
		w := env.do(t, http.MethodGet, "/v1/tenants/tenant-b/health", token, nil)
		assert.Equal(t, http.StatusForbidden, w.Code)
		assert.Equal(t, auth.CodeForbidden, errorCode(t, w))
	})

	assert.NoError(t, env.dbMock.ExpectationsWereMet())
}

func TestOperationalEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(t, http.MethodPost, "/v1/tokens/verify", "", VerifyTokenRequest{Token: "garbage"})

	w := env.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `tenantauth_token_validations_total{outcome="invalid"} 1`)

	w = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/livez", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitedRoutes(t *testing.T) {
	limit := middleware.RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	env := newTestEnv(t, func(d *Dependencies) {
		d.RateLimiter = middleware.NewLocalLimiter(limit)
		d.RateLimit = limit
	})
	token := env.login(t, "user-s", auth.RoleSalesperson)
	body := CheckPermissionRequest{Module: permission.ModuleProducts, Action: permission.ActionView}

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/permissions/check", token, body).Code)
	assert.Equal(t, http.StatusTooManyRequests, env.do(t, http.MethodPost, "/v1/permissions/check", token, body).Code)
}
