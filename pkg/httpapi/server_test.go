package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
	"github.com/Dardin-dale/huginbot-sub000/pkg/idle"
	"github.com/Dardin-dale/huginbot-sub000/pkg/lifecycle"
	"github.com/Dardin-dale/huginbot-sub000/pkg/notify"
	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

type fakeStatus struct {
	status *lifecycle.Status
	err    error
}

func (f *fakeStatus) Status(ctx context.Context) (*lifecycle.Status, error) {
	return f.status, f.err
}

type fakeAlarms struct {
	decision idle.Decision
	err      error
	alarmIDs []string
}

func (f *fakeAlarms) HandleAlarm(ctx context.Context, alarmID string) (idle.Decision, error) {
	f.alarmIDs = append(f.alarmIDs, alarmID)
	return f.decision, f.err
}

type fakeEvents struct {
	dispatched []notify.Event
	fallbacks  []string
}

func (f *fakeEvents) Dispatch(ctx context.Context, event notify.Event) {
	f.dispatched = append(f.dispatched, event)
}

func (f *fakeEvents) DispatchFallbackStop(ctx context.Context, reason string) {
	f.fallbacks = append(f.fallbacks, reason)
}

type fakeParams struct {
	active    *params.ActiveWorld
	activeErr error
	joinCodes []string
	joinErr   error
	healthErr error
}

func (f *fakeParams) ActiveWorld(ctx context.Context) (*params.ActiveWorld, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	if f.active == nil {
		return nil, params.ErrNotFound
	}
	return f.active, nil
}

func (f *fakeParams) IssueJoinCode(ctx context.Context, code string) error {
	f.joinCodes = append(f.joinCodes, code)
	return f.joinErr
}

func (f *fakeParams) HealthCheck(ctx context.Context) error { return f.healthErr }

type testServer struct {
	srv    *Server
	status *fakeStatus
	alarms *fakeAlarms
	events *fakeEvents
	params *fakeParams
}

func newTestServer(t *testing.T, cfg Config) *testServer {
	t.Helper()

	ts := &testServer{
		status: &fakeStatus{status: &lifecycle.Status{
			Instance: compute.Instance{ID: "i-0abc", State: compute.StateRunning},
		}},
		alarms: &fakeAlarms{decision: idle.DecisionStopped},
		events: &fakeEvents{},
		params: &fakeParams{active: &params.ActiveWorld{
			GuildID: "guild-a",
			World:   worlds.WorldConfig{DisplayName: "Midgard", WorldID: "midgard", Password: "secret99"},
		}},
	}

	srv, err := NewServer(cfg, ts.status, ts.alarms, ts.events, ts.params, nil)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	ts.srv = srv
	return ts
}

func (ts *testServer) post(t *testing.T, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIdleSignal(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/idle", `{"alarmId":"valheim-idle","trigger":"no players"}`, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if body["decision"] != string(idle.DecisionStopped) {
		t.Errorf("decision = %q", body["decision"])
	}
	if len(ts.alarms.alarmIDs) != 1 || ts.alarms.alarmIDs[0] != "valheim-idle" {
		t.Errorf("alarm ids = %v", ts.alarms.alarmIDs)
	}
}

func TestIdleSignalRejectsMissingAlarmID(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/idle", `{"trigger":"no players"}`, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(ts.alarms.alarmIDs) != 0 {
		t.Error("invalid alarm reached the handler")
	}
}

func TestIdleSignalHandlerError(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.alarms.err = errors.New("provider down")

	rec := ts.post(t, "/v1/signals/idle", `{"alarmId":"a"}`, "")
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestInstanceStateStoppedRoutesToFallback(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/instance-state", `{"instanceId":"i-0abc","state":"stopped"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if len(ts.events.fallbacks) != 1 {
		t.Fatalf("fallback dispatches = %d, want 1", len(ts.events.fallbacks))
	}
	if len(ts.events.dispatched) != 0 {
		t.Error("stopped report bypassed the dedup path")
	}
}

func TestInstanceStateNonStopIgnored(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/instance-state", `{"instanceId":"i-0abc","state":"running"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.events.fallbacks) != 0 || len(ts.events.dispatched) != 0 {
		t.Error("non-stop report produced a dispatch")
	}
}

func TestInstanceStateWrongInstance(t *testing.T) {
	ts := newTestServer(t, Config{InstanceID: "i-0abc"})

	rec := ts.post(t, "/v1/signals/instance-state", `{"instanceId":"i-0other","state":"stopped"}`, "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if len(ts.events.fallbacks) != 0 {
		t.Error("foreign instance report was dispatched")
	}
}

func TestReadySignal(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/ready", `{"joinCode":"123456"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	if len(ts.params.joinCodes) != 1 || ts.params.joinCodes[0] != "123456" {
		t.Errorf("stored join codes = %v", ts.params.joinCodes)
	}
	if len(ts.events.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(ts.events.dispatched))
	}
	ready, ok := ts.events.dispatched[0].(notify.ReadyEvent)
	if !ok {
		t.Fatalf("dispatched %T, want ReadyEvent", ts.events.dispatched[0])
	}
	if ready.World != "Midgard" || ready.JoinCode != "123456" {
		t.Errorf("ReadyEvent = %+v", ready)
	}
}

func TestReadySignalWithoutJoinCode(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/ready", `{}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.params.joinCodes) != 0 {
		t.Error("empty join code was persisted")
	}
	if len(ts.events.dispatched) != 1 {
		t.Error("ready announcement missing")
	}
}

func TestReadySignalJoinCodeStoreFailureStillAnnounces(t *testing.T) {
	ts := newTestServer(t, Config{})
	ts.params.joinErr = errors.New("disk full")

	rec := ts.post(t, "/v1/signals/ready", `{"joinCode":"123456"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(ts.events.dispatched) != 1 {
		t.Error("store failure swallowed the announcement")
	}
}

func TestBackupSignal(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/backup", `{"sizeBytes":1048576,"archive":"midgard.tar.gz"}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	if len(ts.events.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(ts.events.dispatched))
	}
	ev, ok := ts.events.dispatched[0].(notify.BackupCompletedEvent)
	if !ok || ev.SizeBytes != 1048576 || ev.World != "Midgard" {
		t.Errorf("dispatched = %+v", ts.events.dispatched[0])
	}
}

func TestStoppedSignal(t *testing.T) {
	ts := newTestServer(t, Config{})

	rec := ts.post(t, "/v1/signals/stopped", `{"reason":"requested","backupCompleted":true}`, "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}

	if len(ts.events.dispatched) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(ts.events.dispatched))
	}
	ev, ok := ts.events.dispatched[0].(notify.StoppedEvent)
	if !ok || ev.Reason != "requested" || !ev.BackupCompleted {
		t.Errorf("dispatched = %+v", ts.events.dispatched[0])
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t, Config{})

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var status lifecycle.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if status.Instance.State != compute.StateRunning {
		t.Errorf("state = %s", status.Instance.State)
	}
}

func TestBearerToken(t *testing.T) {
	ts := newTestServer(t, Config{Token: "tok-123"})

	if rec := ts.post(t, "/v1/signals/idle", `{"alarmId":"a"}`, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
	if rec := ts.post(t, "/v1/signals/idle", `{"alarmId":"a"}`, "wrong"); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong-token status = %d, want 401", rec.Code)
	}
	if rec := ts.post(t, "/v1/signals/idle", `{"alarmId":"a"}`, "tok-123"); rec.Code != http.StatusOK {
		t.Errorf("authenticated status = %d, want 200", rec.Code)
	}
}

func TestHealthzSkipsAuth(t *testing.T) {
	ts := newTestServer(t, Config{Token: "tok-123"})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	ts.params.healthErr = errors.New("db gone")
	rec = httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unhealthy status = %d, want 503", rec.Code)
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t, Config{})

	if rec := ts.post(t, "/v1/signals/stopped", `{"reason":`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("truncated body status = %d, want 400", rec.Code)
	}
	if rec := ts.post(t, "/v1/signals/stopped", `{"reason":"x","bogus":1}`, ""); rec.Code != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", rec.Code)
	}
}
