package directory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/permission"
	"github.com/platinummonkey/tenantauth/pkg/tenant"
)

// DBProvider returns the database of a tenant. *tenant.Router implements it.
type DBProvider interface {
	Get(ctx context.Context, tenantID string) (*sql.DB, error)
}

// PostgresDirectory loads permission contexts from each tenant's own database
type PostgresDirectory struct {
	dbs    DBProvider
	logger *logrus.Logger
}

// NewPostgresDirectory creates a directory reading through dbs
func NewPostgresDirectory(dbs DBProvider, logger *logrus.Logger) *PostgresDirectory {
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.WarnLevel)
	}
	return &PostgresDirectory{dbs: dbs, logger: logger}
}

// LoadContext loads the role and permission overrides of an active user.
//
// A NULL custom_permissions column means the role defaults apply; any JSON
// object, including {}, replaces them.
func (d *PostgresDirectory) LoadContext(ctx context.Context, userID, tenantID string) (*permission.PermissionContext, error) {
	db, err := d.db(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT role, custom_permissions, store_permissions
		FROM users
		WHERE id = $1 AND active = true
	`

	var (
		role       string
		customJSON []byte
		storesJSON []byte
	)
	err = db.QueryRowContext(ctx, query, userID).Scan(&role, &customJSON, &storesJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, permission.ErrContextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}

	parsed, err := auth.ParseRole(role)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"tenant_id": tenantID,
			"user_id":   userID,
			"role":      role,
		}).Warn("user has unknown role")
		return nil, err
	}

	pc := &permission.PermissionContext{
		UserID:   userID,
		TenantID: tenantID,
		Role:     parsed,
	}
	if customJSON != nil {
		if err := json.Unmarshal(customJSON, &pc.CustomPermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom permissions: %w", err)
		}
		if pc.CustomPermissions == nil {
			pc.CustomPermissions = permission.ModulePermissions{}
		}
	}
	if storesJSON != nil {
		if err := json.Unmarshal(storesJSON, &pc.StorePermissions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal store permissions: %w", err)
		}
	}

	return pc, nil
}

// LoadAccessibleStores returns the ids of the stores assigned to a user
func (d *PostgresDirectory) LoadAccessibleStores(ctx context.Context, userID, tenantID string) ([]string, error) {
	db, err := d.db(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT store_id
		FROM user_stores
		WHERE user_id = $1
		ORDER BY store_id
	`

	rows, err := db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user stores: %w", err)
	}
	defer rows.Close()

	stores := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan store id: %w", err)
		}
		stores = append(stores, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user stores: %w", err)
	}

	return stores, nil
}

// db returns the tenant database. Unknown tenants have no contexts.
func (d *PostgresDirectory) db(ctx context.Context, tenantID string) (*sql.DB, error) {
	db, err := d.dbs.Get(ctx, tenantID)
	if errors.Is(err, tenant.ErrTenantNotFound) || errors.Is(err, tenant.ErrMissingTenant) {
		return nil, permission.ErrContextNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant database: %w", err)
	}
	return db, nil
}
