package directory

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/permission"
	"github.com/platinummonkey/tenantauth/pkg/tenant"
)

const (
	userQuery   = `SELECT role, custom_permissions, store_permissions FROM users WHERE id = \$1 AND active = true`
	storesQuery = `SELECT store_id FROM user_stores WHERE user_id = \$1 ORDER BY store_id`
)

// staticProvider hands out one database per tenant
type staticProvider map[string]*sql.DB

func (p staticProvider) Get(_ context.Context, tenantID string) (*sql.DB, error) {
	if tenantID == "" {
		return nil, tenant.ErrMissingTenant
	}
	db, ok := p[tenantID]
	if !ok {
		return nil, tenant.ErrTenantNotFound
	}
	return db, nil
}

type failingProvider struct{}

func (failingProvider) Get(context.Context, string) (*sql.DB, error) {
	return nil, errors.New("pool exhausted")
}

func setupDirectoryTest(t *testing.T) (*PostgresDirectory, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewPostgresDirectory(staticProvider{"tenant-a": db}, nil), mock
}

func TestLoadContext(t *testing.T) {
	columns := []string{"role", "custom_permissions", "store_permissions"}
	ctx := context.Background()

	t.Run("role defaults", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(userQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("salesperson", nil, nil))

		pc, err := dir.LoadContext(ctx, "u1", "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, "u1", pc.UserID)
		assert.Equal(t, "tenant-a", pc.TenantID)
		assert.Equal(t, auth.RoleSalesperson, pc.Role)
		assert.Nil(t, pc.CustomPermissions)
		assert.Nil(t, pc.StorePermissions)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("overrides", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(userQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow(
				"store_manager",
				[]byte(`{"products":["view","delete"]}`),
				[]byte(`{"store-1":{"pos":[]}}`),
			))

		pc, err := dir.LoadContext(ctx, "u1", "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, permission.ActionSet{permission.ActionView, permission.ActionDelete}, pc.CustomPermissions[permission.ModuleProducts])
		require.Contains(t, pc.StorePermissions, "store-1")
		assert.Empty(t, pc.StorePermissions["store-1"][permission.ModulePOS])
		assert.True(t, pc.Effective(permission.ModuleProducts, "").Has(permission.ActionDelete))
	})

	t.Run("empty custom permissions stay present", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(userQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("company_manager", []byte(`{}`), nil))

		pc, err := dir.LoadContext(ctx, "u1", "tenant-a")
		require.NoError(t, err)
		assert.NotNil(t, pc.CustomPermissions)
		assert.Empty(t, pc.Effective(permission.ModuleDashboard, ""))
	})

	t.Run("json null custom permissions stay present", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(userQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("company_manager", []byte(`null`), nil))

		pc, err := dir.LoadContext(ctx, "u1", "tenant-a")
		require.NoError(t, err)
		assert.NotNil(t, pc.CustomPermissions)
	})

	t.Run("unknown user", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(userQuery).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

		_, err := dir.LoadContext(ctx, "ghost", "tenant-a")
		assert.ErrorIs(t, err, permission.ErrContextNotFound)
	})

	t.Run("unknown tenant", func(t *testing.T) {
		dir, _ := setupDirectoryTest(t)
		_, err := dir.LoadContext(ctx, "u1", "tenant-z")
		assert.ErrorIs(t, err, permission.ErrContextNotFound)

		_, err = dir.LoadContext(ctx, "u1", "")
		assert.ErrorIs(t, err, permission.ErrContextNotFound)
	})

	t.Run("unknown role", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(userQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("admin", nil, nil))

		_, err := dir.LoadContext(ctx, "u1", "tenant-a")
		assert.ErrorIs(t, err, auth.ErrUnknownRole)
	})

	t.Run("corrupt overrides", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(userQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows(columns).AddRow("salesperson", []byte(`{"pos":`), nil))

		_, err := dir.LoadContext(ctx, "u1", "tenant-a")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, permission.ErrContextNotFound)
	})

	t.Run("provider failure", func(t *testing.T) {
		dir := NewPostgresDirectory(failingProvider{}, nil)
		_, err := dir.LoadContext(ctx, "u1", "tenant-a")
		assert.Error(t, err)
		assert.NotErrorIs(t, err, permission.ErrContextNotFound)
	})
}

func TestLoadAccessibleStores(t *testing.T) {
	ctx := context.Background()

	t.Run("assigned stores", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(storesQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"store_id"}).AddRow("store-1").AddRow("store-2"))

		stores, err := dir.LoadAccessibleStores(ctx, "u1", "tenant-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"store-1", "store-2"}, stores)
	})

	t.Run("no stores", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(storesQuery).WithArgs("u1").
			WillReturnRows(sqlmock.NewRows([]string{"store_id"}))

		stores, err := dir.LoadAccessibleStores(ctx, "u1", "tenant-a")
		require.NoError(t, err)
		assert.NotNil(t, stores)
		assert.Empty(t, stores)
	})

	t.Run("query failure", func(t *testing.T) {
		dir, mock := setupDirectoryTest(t)
		mock.ExpectQuery(storesQuery).WithArgs("u1").WillReturnError(errors.New("timeout"))

		_, err := dir.LoadAccessibleStores(ctx, "u1", "tenant-a")
		assert.Error(t, err)
	})
}

func TestDirectoryWithPermissionService(t *testing.T) {
	dir, mock := setupDirectoryTest(t)
	mock.ExpectQuery(userQuery).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role", "custom_permissions", "store_permissions"}).
			AddRow("store_manager", nil, nil))
	mock.ExpectQuery(storesQuery).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"store_id"}).AddRow("store-1"))

	svc, err := permission.NewService(dir, permission.Config{}, nil)
	require.NoError(t, err)
	defer svc.Close()

	result, err := svc.CheckStoreAccess(context.Background(), "u1", "tenant-a", "store-1")
	require.NoError(t, err)
	assert.True(t, result.Allowed)

	result, err = svc.CheckStoreAccess(context.Background(), "u1", "tenant-a", "store-2")
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, auth.CodeStoreForbidden, result.ErrorCode)

	assert.NoError(t, mock.ExpectationsWereMet())
}
