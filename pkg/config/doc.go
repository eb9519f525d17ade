// Package config loads service configuration from an optional YAML file and
// TENANTAUTH_* environment variables.
//
// # Precedence
//
// Built-in defaults, then the YAML file, then the environment. Validate runs last
// and reports every problem at once.
//
// # Example File
//
//	server:
//	  port: "8080"
//	auth:
//	  signing_secret: "..."       # at least 32 bytes
//	  check_sessions: true
//	permissions:
//	  cache_ttl: 5m
//	  max_entries: 10000
//	router:
//	  registry_dsn: postgres://control-plane/tenants
//	  max_pools: 50
//	  max_age: 30m
//	redis:
//	  url: redis://localhost:6379/0
//	observability:
//	  log_level: info
//	  log_format: json
//
// # Environment
//
//	TENANTAUTH_SIGNING_SECRET="..."
//	TENANTAUTH_REGISTRY_DSN="postgres://control-plane/tenants"
//	TENANTAUTH_REDIS_URL="redis://localhost:6379/0"
//	TENANTAUTH_LOG_LEVEL="debug"
//
// # Related Packages
//
//   - pkg/observability: logger and tracing built from ObservabilityConfig
//   - pkg/tenant: router built from RouterConfig
package config
