// Package httpapi is the HTTP ingest surface for huginbot serve. It
// accepts the inbound trigger signals (idle alarms, instance
// state-change reports, game-host lifecycle hooks), exposes a status
// read, and serves health and metrics endpoints. Every signal handler
// is a thin shim: decode, validate, hand off to the owning component.
package httpapi

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dardin-dale/huginbot-sub000/pkg/idle"
	"github.com/Dardin-dale/huginbot-sub000/pkg/lifecycle"
	"github.com/Dardin-dale/huginbot-sub000/pkg/notify"
	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/telemetry"
)

// maxSignalBytes bounds inbound signal bodies. The largest legitimate
// payload is a stop report with a backup error message.
const maxSignalBytes = 16 << 10

// StatusReader reports the combined lifecycle status.
type StatusReader interface {
	Status(ctx context.Context) (*lifecycle.Status, error)
}

// AlarmHandler acts on idle alarms.
type AlarmHandler interface {
	HandleAlarm(ctx context.Context, alarmID string) (idle.Decision, error)
}

// EventSink delivers notification events.
type EventSink interface {
	Dispatch(ctx context.Context, event notify.Event)
	DispatchFallbackStop(ctx context.Context, reason string)
}

// ParamSink is the slice of the parameter store the ingest surface
// touches: the active world for event rendering, join-code issuance,
// and the health probe.
type ParamSink interface {
	ActiveWorld(ctx context.Context) (*params.ActiveWorld, error)
	IssueJoinCode(ctx context.Context, code string) error
	HealthCheck(ctx context.Context) error
}

// Config wires a Server.
type Config struct {
	// ListenAddr is the address to serve on.
	ListenAddr string

	// Token is the bearer token required on /v1 routes. Empty disables
	// authentication; only sensible behind a private listener.
	Token string

	// InstanceID, when set, rejects state-change reports for other
	// instances.
	InstanceID string

	// ExposeMetrics serves the prometheus handler on /metrics.
	ExposeMetrics bool

	// ReadTimeout and WriteTimeout bound request handling.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the ingest HTTP server.
type Server struct {
	cfg     Config
	status  StatusReader
	alarms  AlarmHandler
	events  EventSink
	params  ParamSink
	metrics *telemetry.Metrics
	httpSrv *http.Server
}

// NewServer assembles the ingest server. metrics may be nil.
func NewServer(cfg Config, status StatusReader, alarms AlarmHandler, events EventSink, sink ParamSink, metrics *telemetry.Metrics) (*Server, error) {
	if status == nil || alarms == nil || events == nil || sink == nil {
		return nil, fmt.Errorf("ingest server requires status, alarm, event, and param collaborators")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8420"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}

	s := &Server{
		cfg:     cfg,
		status:  status,
		alarms:  alarms,
		events:  events,
		params:  sink,
		metrics: metrics,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("POST /v1/signals/idle", s.instrument("idle", s.authed(s.handleIdle)))
	mux.Handle("POST /v1/signals/instance-state", s.instrument("instance-state", s.authed(s.handleInstanceState)))
	mux.Handle("POST /v1/signals/ready", s.instrument("ready", s.authed(s.handleReady)))
	mux.Handle("POST /v1/signals/backup", s.instrument("backup", s.authed(s.handleBackup)))
	mux.Handle("POST /v1/signals/stopped", s.instrument("stopped", s.authed(s.handleStopped)))
	mux.Handle("GET /v1/status", s.instrument("status", s.authed(s.handleStatus)))
	if cfg.ExposeMetrics && metrics != nil {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	s.httpSrv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// Handler exposes the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	log.Info().
		Str("addr", s.cfg.ListenAddr).
		Bool("authenticated", s.cfg.Token != "").
		Msg("Ingest server listening")
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingest server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// authed enforces the bearer token when one is configured.
func (s *Server) authed(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token != "" {
			got := r.Header.Get("Authorization")
			want := "Bearer " + s.cfg.Token
			if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
				writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
				return
			}
		}
		next(w, r)
	})
}

// instrument records the ingest latency histogram per route.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordIngestRequest(route, strconv.Itoa(rec.status), time.Since(started))
	})
}

// statusRecorder captures the response status for the metrics label.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.params.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "parameter store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
