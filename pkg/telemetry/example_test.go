package telemetry_test

import (
	"context"
	"fmt"
	"time"

	"github.com/Dardin-dale/huginbot-sub000/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	// Create configuration
	cfg := telemetry.DefaultConfig()
	cfg.ServiceName = "huginbot"
	cfg.ServiceVersion = "1.0.0"

	// Initialize telemetry
	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	// Start metrics server (non-blocking)
	if err := tel.StartMetricsServer(); err != nil {
		panic(err)
	}

	// Add telemetry to context
	ctx := tel.WithContext(context.Background())

	// Use telemetry
	logger := telemetry.FromContext(ctx)
	logger.Info("Application started")

	// Output can vary, so we don't specify output for this example
}

// Example_structuredLogging demonstrates structured logging features.
func Example_structuredLogging() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Logging.Output = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Component-specific logger
	logger := tel.Logger.NewComponentLogger("lifecycle")

	// Add context fields
	logger = logger.WithGuildID("guild-123").WithWorld("Midgard")

	// Log at different levels
	logger.Debug("Resolving world configuration")
	logger.Info("Server start requested")
	logger.Warn("Join code expired")

	// Log with error
	err := fmt.Errorf("network timeout")
	logger.WithError(err).Error("Failed to reach compute provider")

	// Output varies, no output specified
}

// Example_distributedTracing demonstrates distributed tracing usage.
func Example_distributedTracing() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "stdout"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	// Start a span
	ctx, span := tel.Tracer.Start(ctx, "lifecycle.start")
	defer span.End()

	// Add attributes
	span.SetAttributes(
		attribute.String("guild.id", "guild-123"),
		attribute.String("world.name", "Midgard"),
	)

	// Nested span
	_, childSpan := tel.Tracer.Start(ctx, "provider.describe")
	defer childSpan.End()

	childSpan.SetAttributes(
		attribute.String("provider.name", "ec2"),
		attribute.String("instance.state", "stopped"),
	)

	// Simulate work
	time.Sleep(10 * time.Millisecond)

	// Record success
	telemetry.RecordSuccess(childSpan)

	// Output varies, no output specified
}

// Example_metricsCollection demonstrates metrics collection.
func Example_metricsCollection() {
	cfg := telemetry.DefaultConfig()
	cfg.Metrics.Enabled = true

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	// Record a lifecycle operation
	start := time.Now()
	time.Sleep(50 * time.Millisecond)
	tel.Metrics.RecordLifecycleOp("start", "started", time.Since(start))

	// Record provider metrics
	tel.Metrics.RecordProviderCall("ec2", "describe", 15*time.Millisecond)
	tel.Metrics.RecordStateObservation("running")

	// Record notification metrics
	tel.Metrics.RecordNotifyAttempt("ready")
	tel.Metrics.RecordNotifyDelivery("ready", "delivered")

	// Record error metrics
	tel.Metrics.RecordError("transient", "HB-1001")

	fmt.Println("Metrics recorded successfully")
	// Output: Metrics recorded successfully
}
