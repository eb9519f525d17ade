package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// PoolConfig holds per-tenant pool sizing
type PoolConfig struct {
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// PostgresFactory opens lib/pq pools
type PostgresFactory struct {
	config PoolConfig
	open   func(driverName, dsn string) (*sql.DB, error)
}

// NewPostgresFactory creates a factory applying config to every pool it opens
func NewPostgresFactory(config PoolConfig) *PostgresFactory {
	if config.MaxConns <= 0 {
		config.MaxConns = 10
	}
	if config.MinConns <= 0 || config.MinConns > config.MaxConns {
		config.MinConns = 2
	}
	return &PostgresFactory{config: config, open: sql.Open}
}

// Open opens and pings a pool for route
func (f *PostgresFactory) Open(ctx context.Context, route Route) (*sql.DB, error) {
	db, err := f.open("postgres", route.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open connection: %w", err)
	}

	db.SetMaxOpenConns(f.config.MaxConns)
	db.SetMaxIdleConns(f.config.MinConns)
	db.SetConnMaxLifetime(f.config.MaxLifetime)
	db.SetConnMaxIdleTime(f.config.MaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping tenant database: %w", err)
	}
	return db, nil
}

// PostgresRegistry resolves tenant routes from the control-plane tenants table
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a registry reading from db
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// Resolve returns the route of an active tenant
func (r *PostgresRegistry) Resolve(ctx context.Context, tenantID string) (Route, error) {
	query := `
		SELECT db_host, db_port, db_name, db_user, db_password, db_sslmode
		FROM tenants
		WHERE id = $1 AND status = 'active'
	`

	route := Route{TenantID: tenantID}
	var sslMode sql.NullString
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&route.Host,
		&route.Port,
		&route.Database,
		&route.User,
		&route.Password,
		&sslMode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Route{}, ErrTenantNotFound
	}
	if err != nil {
		return Route{}, fmt.Errorf("failed to query tenant route: %w", err)
	}
	route.SSLMode = sslMode.String

	return route, nil
}
