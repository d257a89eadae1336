// Package telemetry provides observability instrumentation for HuginBot.
//
// The telemetry package integrates structured logging (zerolog), distributed
// tracing (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring and debugging server lifecycle operations.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceName = "huginbot"
//	cfg.ServiceVersion = "1.0.0"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	// Start metrics server (non-blocking)
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Add telemetry to context
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with automatic context
// propagation:
//
//	logger := tel.Logger.NewComponentLogger("lifecycle")
//	logger = logger.WithGuildID("guild-123").WithWorld("Midgard")
//	logger.Info("Starting server")
//	logger.WithError(err).Error("Provider call failed")
//
// Log levels: trace, debug, info, warn, error, fatal
//
// # Distributed Tracing
//
// Tracing provides visibility into operation flow and latency:
//
//	ctx, span := tel.Tracer.StartLifecycleSpan(ctx, "start", guildID)
//	defer span.End()
//
//	if err != nil {
//	    telemetry.RecordError(span, err)
//	}
//
// Supported exporters: OTLP/gRPC (production), stdout (development), none
// (testing).
//
// # Metrics
//
// Prometheus metrics track system behavior:
//
//	tel.Metrics.RecordLifecycleOp("start", "started", duration)
//	tel.Metrics.RecordProviderCall("ec2", "describe", duration)
//	tel.Metrics.RecordNotifyDelivery("ready", "delivered")
//	tel.Metrics.RecordIdleCheck("grace_period")
//	tel.Metrics.RecordError("transient", "HB-1001")
//
// Key metric families:
//
//   - huginbot_lifecycle_operations_total{operation,outcome}
//   - huginbot_provider_calls_total{provider,operation}
//   - huginbot_instance_state_observations_total{state}
//   - huginbot_notification_deliveries_total{event_type,result}
//   - huginbot_notifications_suppressed_total
//   - huginbot_idle_checks_total{decision}
//   - huginbot_errors_by_class_total{class}
//   - huginbot_ingest_requests_total{route,status}
//
// Metrics are exposed via HTTP at /metrics (default :9090/metrics). All
// Record methods are nil-safe: with metrics disabled they are no-ops, so
// callers never need to guard instrumentation.
//
// # Configuration
//
// Pre-configured setups exist for different environments:
//
//	cfg := telemetry.DevelopmentConfig() // console logs, stdout traces, full sampling
//	cfg := telemetry.ProductionConfig()  // JSON logs, OTLP traces, 10% sampling
//
// # Graceful Shutdown
//
// Always shut down telemetry to flush pending spans:
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//	if err := tel.Shutdown(ctx); err != nil {
//	    log.Printf("telemetry shutdown error: %v", err)
//	}
//
// Never log sensitive data: world passwords, webhook URLs, and join codes
// stay out of log fields and span attributes.
package telemetry
