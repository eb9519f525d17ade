package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/middleware"
	"github.com/platinummonkey/tenantauth/pkg/observability"
	"github.com/platinummonkey/tenantauth/pkg/permcache"
	"github.com/platinummonkey/tenantauth/pkg/permission"
	"github.com/platinummonkey/tenantauth/pkg/redisclient"
	"github.com/platinummonkey/tenantauth/pkg/tenant"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Auth          AuthConfig          `yaml:"auth"`
	Permissions   PermissionsConfig   `yaml:"permissions"`
	Router        RouterConfig        `yaml:"router"`
	Redis         RedisConfig         `yaml:"redis"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// AuthConfig holds token settings
type AuthConfig struct {
	SigningSecret string `yaml:"signing_secret"`
	CookieName    string `yaml:"cookie_name"`
	CheckSessions bool   `yaml:"check_sessions"` // Reject tokens whose session was revoked
}

// PermissionsConfig holds permission cache settings
type PermissionsConfig struct {
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
	LoadTimeout     time.Duration `yaml:"load_timeout"`
}

// ServiceConfig converts to the permission service configuration
func (p PermissionsConfig) ServiceConfig() permission.Config {
	return permission.Config{
		Cache: permcache.Config{
			MaxEntries:      p.MaxEntries,
			DefaultTTL:      p.CacheTTL,
			CleanupInterval: p.CleanupInterval,
		},
		LoadTimeout: p.LoadTimeout,
	}
}

// RouterConfig holds tenant database routing settings
type RouterConfig struct {
	RegistryDSN     string        `yaml:"registry_dsn"` // Control-plane database holding the tenants table
	MaxPools        int           `yaml:"max_pools"`
	MaxAge          time.Duration `yaml:"max_age"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RouteTTL        time.Duration `yaml:"route_ttl"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	SweepSchedule   string        `yaml:"sweep_schedule"`
	PoolMaxConns    int           `yaml:"pool_max_conns"`
	PoolMinConns    int           `yaml:"pool_min_conns"`
	PoolMaxLifetime time.Duration `yaml:"pool_max_lifetime"`
}

// TenantConfig converts to the router configuration
func (r RouterConfig) TenantConfig() tenant.Config {
	return tenant.Config{
		MaxPools:      r.MaxPools,
		MaxAge:        r.MaxAge,
		IdleTimeout:   r.IdleTimeout,
		RouteTTL:      r.RouteTTL,
		CreateTimeout: r.ConnectTimeout,
		SweepSchedule: r.SweepSchedule,
	}
}

// PoolConfig converts to the per-tenant pool sizing
func (r RouterConfig) PoolConfig() tenant.PoolConfig {
	return tenant.PoolConfig{
		MaxConns:    r.PoolMaxConns,
		MinConns:    r.PoolMinConns,
		MaxLifetime: r.PoolMaxLifetime,
		MaxIdleTime: r.IdleTimeout,
	}
}

// RedisConfig holds Redis settings. An empty URL disables sessions, the
// invalidation bus, and the shared rate limiter.
type RedisConfig struct {
	URL                 string `yaml:"url"`
	Password            string `yaml:"password"`
	DB                  int    `yaml:"db"`
	MaxRetries          int    `yaml:"max_retries"`
	PoolSize            int    `yaml:"pool_size"`
	InvalidationChannel string `yaml:"invalidation_channel"`
	SessionPrefix       string `yaml:"session_prefix"`
}

// Enabled reports whether Redis is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// ClientConfig converts to the Redis client configuration
func (r RedisConfig) ClientConfig() redisclient.Config {
	return redisclient.Config{
		URL:        r.URL,
		Password:   r.Password,
		DB:         r.DB,
		MaxRetries: r.MaxRetries,
		PoolSize:   r.PoolSize,
	}
}

// RateLimitConfig holds per-user request throttling settings
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
}

// LimiterConfig converts to the middleware configuration
func (r RateLimitConfig) LimiterConfig() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		RequestsPerWindow: r.RequestsPerWindow,
		WindowDuration:    r.Window,
	}
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	MetricsEnabled bool `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// OTel converts to the tracing bootstrap configuration
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used when neither file nor environment set a value
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			CookieName: middleware.DefaultCookieName,
		},
		Permissions: PermissionsConfig{
			CacheTTL:        permcache.DefaultTTL,
			MaxEntries:      permcache.DefaultMaxEntries,
			CleanupInterval: permcache.DefaultCleanupInterval,
			LoadTimeout:     permission.DefaultLoadTimeout,
		},
		Router: RouterConfig{
			MaxPools:        tenant.DefaultMaxPools,
			MaxAge:          tenant.DefaultMaxAge,
			IdleTimeout:     tenant.DefaultIdleTimeout,
			RouteTTL:        tenant.DefaultRouteTTL,
			ConnectTimeout:  tenant.DefaultCreateTimeout,
			SweepSchedule:   tenant.DefaultSweepSchedule,
			PoolMaxConns:    10,
			PoolMinConns:    2,
			PoolMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			DB:                  -1,
			MaxRetries:          3,
			PoolSize:            10,
			InvalidationChannel: permission.DefaultInvalidationChannel,
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerWindow: middleware.DefaultRateLimitConfig().RequestsPerWindow,
			Window:            middleware.DefaultRateLimitConfig().WindowDuration,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			LogFormat:          "json",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "tenantauth",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then TENANTAUTH_* environment variables
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// applyEnv overrides settings from the environment
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("TENANTAUTH_HOST", c.Server.Host)
	c.Server.Port = getEnv("TENANTAUTH_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("TENANTAUTH_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("TENANTAUTH_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("TENANTAUTH_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("TENANTAUTH_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Auth.SigningSecret = getEnv("TENANTAUTH_SIGNING_SECRET", c.Auth.SigningSecret)
	c.Auth.CookieName = getEnv("TENANTAUTH_COOKIE_NAME", c.Auth.CookieName)
	c.Auth.CheckSessions = getEnvBool("TENANTAUTH_CHECK_SESSIONS", c.Auth.CheckSessions)

	c.Permissions.CacheTTL = getEnvDuration("TENANTAUTH_PERMISSION_CACHE_TTL", c.Permissions.CacheTTL)
	c.Permissions.MaxEntries = getEnvInt("TENANTAUTH_PERMISSION_CACHE_MAX_ENTRIES", c.Permissions.MaxEntries)
	c.Permissions.CleanupInterval = getEnvDuration("TENANTAUTH_PERMISSION_CACHE_CLEANUP_INTERVAL", c.Permissions.CleanupInterval)
	c.Permissions.LoadTimeout = getEnvDuration("TENANTAUTH_PERMISSION_LOAD_TIMEOUT", c.Permissions.LoadTimeout)

	c.Router.RegistryDSN = getEnv("TENANTAUTH_REGISTRY_DSN", c.Router.RegistryDSN)
	c.Router.MaxPools = getEnvInt("TENANTAUTH_ROUTER_MAX_POOLS", c.Router.MaxPools)
	c.Router.MaxAge = getEnvDuration("TENANTAUTH_ROUTER_MAX_AGE", c.Router.MaxAge)
	c.Router.IdleTimeout = getEnvDuration("TENANTAUTH_ROUTER_IDLE_TIMEOUT", c.Router.IdleTimeout)
	c.Router.RouteTTL = getEnvDuration("TENANTAUTH_ROUTER_ROUTE_TTL", c.Router.RouteTTL)
	c.Router.ConnectTimeout = getEnvDuration("TENANTAUTH_ROUTER_CONNECT_TIMEOUT", c.Router.ConnectTimeout)
	c.Router.SweepSchedule = getEnv("TENANTAUTH_ROUTER_SWEEP_SCHEDULE", c.Router.SweepSchedule)
	c.Router.PoolMaxConns = getEnvInt("TENANTAUTH_POOL_MAX_CONNS", c.Router.PoolMaxConns)
	c.Router.PoolMinConns = getEnvInt("TENANTAUTH_POOL_MIN_CONNS", c.Router.PoolMinConns)
	c.Router.PoolMaxLifetime = getEnvDuration("TENANTAUTH_POOL_MAX_LIFETIME", c.Router.PoolMaxLifetime)

	c.Redis.URL = getEnv("TENANTAUTH_REDIS_URL", c.Redis.URL)
	c.Redis.Password = getEnv("TENANTAUTH_REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("TENANTAUTH_REDIS_DB", c.Redis.DB)
	c.Redis.MaxRetries = getEnvInt("TENANTAUTH_REDIS_MAX_RETRIES", c.Redis.MaxRetries)
	c.Redis.PoolSize = getEnvInt("TENANTAUTH_REDIS_POOL_SIZE", c.Redis.PoolSize)
	c.Redis.InvalidationChannel = getEnv("TENANTAUTH_REDIS_INVALIDATION_CHANNEL", c.Redis.InvalidationChannel)
	c.Redis.SessionPrefix = getEnv("TENANTAUTH_REDIS_SESSION_PREFIX", c.Redis.SessionPrefix)

	c.RateLimit.Enabled = getEnvBool("TENANTAUTH_RATE_LIMIT_ENABLED", c.RateLimit.Enabled)
	c.RateLimit.RequestsPerWindow = getEnvInt("TENANTAUTH_RATE_LIMIT_REQUESTS", c.RateLimit.RequestsPerWindow)
	c.RateLimit.Window = getEnvDuration("TENANTAUTH_RATE_LIMIT_WINDOW", c.RateLimit.Window)

	c.Observability.LogLevel = getEnv("TENANTAUTH_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = getEnv("TENANTAUTH_LOG_FORMAT", c.Observability.LogFormat)
	c.Observability.MetricsEnabled = getEnvBool("TENANTAUTH_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("TENANTAUTH_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("TENANTAUTH_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("TENANTAUTH_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("TENANTAUTH_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("TENANTAUTH_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("TENANTAUTH_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}

	if len(c.Auth.SigningSecret) < auth.MinSecretLength {
		errs = append(errs, fmt.Errorf("signing secret must be at least %d bytes", auth.MinSecretLength))
	}
	if c.Auth.CheckSessions && !c.Redis.Enabled() {
		errs = append(errs, errors.New("session checks require a redis URL"))
	}

	if c.Permissions.MaxEntries < 0 {
		errs = append(errs, errors.New("permission cache max entries must not be negative"))
	}
	if c.Permissions.CacheTTL <= 0 {
		errs = append(errs, errors.New("permission cache TTL must be positive"))
	}

	if c.Router.RegistryDSN == "" {
		errs = append(errs, errors.New("tenant registry DSN is required"))
	}
	if c.Router.MaxPools <= 0 {
		errs = append(errs, errors.New("router max pools must be positive"))
	}
	if c.Router.PoolMinConns > c.Router.PoolMaxConns {
		errs = append(errs, errors.New("pool min conns must not exceed pool max conns"))
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate limit requests and window must be positive"))
	}

	switch strings.ToLower(c.Observability.LogFormat) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be json or text)", c.Observability.LogFormat))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
