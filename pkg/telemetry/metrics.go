package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics provides Prometheus metrics for HuginBot. Every Record method
// is safe to call on a nil receiver or a disabled instance, so callers
// can hold an optional *Metrics without guarding each call site.
type Metrics struct {
	config MetricsConfig

	// Lifecycle metrics
	lifecycleOps      *prometheus.CounterVec
	lifecycleDuration *prometheus.HistogramVec

	// Provider metrics
	providerCalls     *prometheus.CounterVec
	providerDuration  *prometheus.HistogramVec
	providerErrors    *prometheus.CounterVec
	stateObservations *prometheus.CounterVec

	// Retry metrics
	retryAttempts *prometheus.CounterVec

	// Notification metrics
	notifyDeliveries *prometheus.CounterVec
	notifyAttempts   *prometheus.CounterVec
	notifySuppressed prometheus.Counter

	// Idle monitor metrics
	idleChecks *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// Ingest metrics
	ingestRequests *prometheus.CounterVec
	ingestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		lifecycleOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_operations_total",
				Help:      "Total number of lifecycle operations by outcome",
			},
			[]string{"operation", "outcome"},
		),
		lifecycleDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "lifecycle_operation_duration_seconds",
				Help:      "Duration of lifecycle operations in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),

		providerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of compute provider calls",
			},
			[]string{"provider", "operation"},
		),
		providerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Duration of compute provider calls in seconds",
				Buckets:   buckets,
			},
			[]string{"provider", "operation"},
		),
		providerErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of compute provider errors",
			},
			[]string{"provider", "operation"},
		),
		stateObservations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instance_state_observations_total",
				Help:      "Total number of instance state observations by state",
			},
			[]string{"state"},
		),

		retryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retry_attempts_total",
				Help:      "Total number of retry attempts by operation",
			},
			[]string{"operation"},
		),

		notifyDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_deliveries_total",
				Help:      "Total number of notification deliveries by event type and result",
			},
			[]string{"event_type", "result"},
		),
		notifyAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notification_attempts_total",
				Help:      "Total number of notification delivery attempts by event type",
			},
			[]string{"event_type"},
		),
		notifySuppressed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_suppressed_total",
				Help:      "Total number of duplicate stop notifications suppressed",
			},
		),

		idleChecks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "idle_checks_total",
				Help:      "Total number of idle alarm evaluations by decision",
			},
			[]string{"decision"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		ingestRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_requests_total",
				Help:      "Total number of trigger ingest requests by route and status",
			},
			[]string{"route", "status"},
		),
		ingestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ingest_request_duration_seconds",
				Help:      "Duration of trigger ingest requests in seconds",
				Buckets:   buckets,
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		m.lifecycleOps,
		m.lifecycleDuration,
		m.providerCalls,
		m.providerDuration,
		m.providerErrors,
		m.stateObservations,
		m.retryAttempts,
		m.notifyDeliveries,
		m.notifyAttempts,
		m.notifySuppressed,
		m.idleChecks,
		m.errorsByClass,
		m.errorsByCode,
		m.ingestRequests,
		m.ingestDuration,
	)

	return m, nil
}

// Lifecycle Metrics

// RecordLifecycleOp records a lifecycle operation with its outcome and duration.
func (m *Metrics) RecordLifecycleOp(operation, outcome string, duration time.Duration) {
	if m == nil || m.lifecycleOps == nil {
		return
	}
	m.lifecycleOps.WithLabelValues(operation, outcome).Inc()
	m.lifecycleDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Provider Metrics

// RecordProviderCall records a compute provider call with its duration.
func (m *Metrics) RecordProviderCall(provider, operation string, duration time.Duration) {
	if m == nil || m.providerCalls == nil {
		return
	}
	m.providerCalls.WithLabelValues(provider, operation).Inc()
	m.providerDuration.WithLabelValues(provider, operation).Observe(duration.Seconds())
}

// RecordProviderError records a compute provider error.
func (m *Metrics) RecordProviderError(provider, operation string) {
	if m == nil || m.providerErrors == nil {
		return
	}
	m.providerErrors.WithLabelValues(provider, operation).Inc()
}

// RecordStateObservation records an observed instance state.
func (m *Metrics) RecordStateObservation(state string) {
	if m == nil || m.stateObservations == nil {
		return
	}
	m.stateObservations.WithLabelValues(state).Inc()
}

// Retry Metrics

// RecordRetryAttempt records a retry attempt for an operation.
func (m *Metrics) RecordRetryAttempt(operation string) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	m.retryAttempts.WithLabelValues(operation).Inc()
}

// Notification Metrics

// RecordNotifyDelivery records the final result of a notification delivery.
func (m *Metrics) RecordNotifyDelivery(eventType, result string) {
	if m == nil || m.notifyDeliveries == nil {
		return
	}
	m.notifyDeliveries.WithLabelValues(eventType, result).Inc()
}

// RecordNotifyAttempt records a single notification delivery attempt.
func (m *Metrics) RecordNotifyAttempt(eventType string) {
	if m == nil || m.notifyAttempts == nil {
		return
	}
	m.notifyAttempts.WithLabelValues(eventType).Inc()
}

// RecordNotifySuppressed records a suppressed duplicate stop notification.
func (m *Metrics) RecordNotifySuppressed() {
	if m == nil || m.notifySuppressed == nil {
		return
	}
	m.notifySuppressed.Inc()
}

// Idle Monitor Metrics

// RecordIdleCheck records an idle alarm evaluation with its decision.
func (m *Metrics) RecordIdleCheck(decision string) {
	if m == nil || m.idleChecks == nil {
		return
	}
	m.idleChecks.WithLabelValues(decision).Inc()
}

// Error Metrics

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m == nil || m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Ingest Metrics

// RecordIngestRequest records a trigger ingest request with its status and duration.
func (m *Metrics) RecordIngestRequest(route, status string, duration time.Duration) {
	if m == nil || m.ingestRequests == nil {
		return
	}
	m.ingestRequests.WithLabelValues(route, status).Inc()
	m.ingestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if m == nil || !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Str("addr", m.config.ListenAddress).Msg("Metrics server terminated")
		}
	}()

	return nil
}
