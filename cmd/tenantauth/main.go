package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/tenantauth/pkg/api"
	"github.com/platinummonkey/tenantauth/pkg/auth"
	"github.com/platinummonkey/tenantauth/pkg/config"
	"github.com/platinummonkey/tenantauth/pkg/directory"
	"github.com/platinummonkey/tenantauth/pkg/middleware"
	"github.com/platinummonkey/tenantauth/pkg/observability"
	"github.com/platinummonkey/tenantauth/pkg/permission"
	"github.com/platinummonkey/tenantauth/pkg/redisclient"
	"github.com/platinummonkey/tenantauth/pkg/session"
	"github.com/platinummonkey/tenantauth/pkg/tenant"
)

var version = "dev"

var (
	configPath      = flag.String("config", getEnv("TENANTAUTH_CONFIG", ""), "Path to YAML configuration file")
	limiterSchedule = flag.String("limiter-cleanup-schedule", "@every 5m", "Cron schedule for pruning idle local rate limit buckets")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "tenantauth: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return err
	}

	tokens, err := auth.NewTokenService([]byte(cfg.Auth.SigningSecret), logger)
	if err != nil {
		return fmt.Errorf("failed to create token service: %w", err)
	}

	registryDB, err := sql.Open("postgres", cfg.Router.RegistryDSN)
	if err != nil {
		return fmt.Errorf("failed to open tenant registry: %w", err)
	}
	if err := registryDB.PingContext(ctx); err != nil {
		registryDB.Close()
		return fmt.Errorf("failed to ping tenant registry: %w", err)
	}

	router, err := tenant.NewRouter(
		tenant.NewPostgresRegistry(registryDB),
		tenant.NewPostgresFactory(cfg.Router.PoolConfig()),
		cfg.Router.TenantConfig(),
		logger,
	)
	if err != nil {
		registryDB.Close()
		return fmt.Errorf("failed to create tenant router: %w", err)
	}

	permissions, err := permission.NewService(directory.NewPostgresDirectory(router, logger), cfg.Permissions.ServiceConfig(), logger)
	if err != nil {
		router.Close()
		registryDB.Close()
		return fmt.Errorf("failed to create permission service: %w", err)
	}

	deps := api.Dependencies{
		Tokens:      tokens,
		Permissions: permissions,
		Invalidator: api.LocalInvalidator(permissions),
		Tenants:     router,
		CookieName:  cfg.Auth.CookieName,
		Logger:      logger,
	}

	if cfg.Observability.MetricsEnabled {
		metrics := observability.NewMetrics(nil)
		metrics.RegisterCacheStats(permissions.Stats)
		metrics.RegisterRouterStats(router.Stats)
		permissions.SetRecorder(metrics)
		deps.Metrics = metrics
	}

	var redisClient *redis.Client
	var bus *permission.InvalidationBus
	if cfg.Redis.Enabled() {
		redisClient, err = redisclient.New(ctx, cfg.Redis.ClientConfig())
		if err != nil {
			permissions.Close()
			router.Close()
			registryDB.Close()
			return err
		}

		bus = permission.NewInvalidationBus(permissions, redisClient, cfg.Redis.InvalidationChannel, logger)
		deps.Invalidator = bus

		if cfg.Auth.CheckSessions {
			deps.Sessions = session.NewStore(redisClient, cfg.Redis.SessionPrefix, logger)
		}
	}

	scheduler := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(logger))))
	if cfg.RateLimit.Enabled {
		limits := cfg.RateLimit.LimiterConfig()
		local := middleware.NewLocalLimiter(limits)
		if _, err := scheduler.AddFunc(*limiterSchedule, func() {
			if n := local.Cleanup(); n > 0 {
				logger.WithField("buckets", n).Debug("pruned idle rate limit buckets")
			}
		}); err != nil {
			return fmt.Errorf("invalid limiter cleanup schedule: %w", err)
		}

		deps.RateLimit = limits
		if redisClient != nil {
			deps.RateLimiter = middleware.NewRedisLimiter(redisClient, limits, "")
			deps.RateLimitBackup = local
		} else {
			deps.RateLimiter = local
		}
	}

	deps.Health = observability.NewHealthChecker(registryDB, redisClient, version)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      api.NewRouter(deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("tracing", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, tp, logger)
	})
	shutdown.Register("registry", func(context.Context) error {
		return registryDB.Close()
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.Register("tenant-router", func(context.Context) error {
		return router.Close()
	})
	shutdown.Register("permissions", func(context.Context) error {
		permissions.Close()
		return nil
	})
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	busDone := make(chan struct{})
	if bus != nil {
		busCtx, stopBus := context.WithCancel(ctx)
		go func() {
			defer close(busDone)
			defer observability.RecoverPanic(logger, "invalidation bus")
			if err := bus.Run(busCtx, nil); err != nil {
				logger.WithError(err).Error("invalidation bus stopped")
			}
		}()
		shutdown.Register("invalidation-bus", func(ctx context.Context) error {
			stopBus()
			select {
			case <-busDone:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	} else {
		close(busDone)
	}

	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":          server.Addr,
			"version":       version,
			"redis":         redisClient != nil,
			"sessions":      deps.Sessions != nil,
			"rate_limiting": deps.RateLimiter != nil,
		}).Info("tenantauth listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	waitCtx, stopWaiting := context.WithCancel(ctx)
	defer stopWaiting()
	go func() {
		if err, ok := <-serverErr; ok {
			logger.WithError(err).Error("HTTP server failed")
			stopWaiting()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
