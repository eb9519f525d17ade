// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health checks, and graceful shutdown.
//
// # Structured Logging
//
//	logger, err := observability.NewLogger("info", "json", os.Stdout)
//	observability.WithTraceContext(ctx, logger.WithField("tenant_id", id)).Info("pool created")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(nil)
//	permissionService.SetRecorder(metrics)
//	metrics.RegisterCacheStats(permissionService.Stats)
//	metrics.RegisterRouterStats(router.Stats)
//	r.Handle("/metrics", metrics.Handler())
//
// # OpenTelemetry
//
//	tp, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:     true,
//		Endpoint:    "otel-collector:4317",
//		ServiceName: "tenantauth",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, tp, logger)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(registryDB, redisClient, version)
//	r.HandleFunc("/healthz", checker.Readiness)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/permission: Decision recorder
package observability
