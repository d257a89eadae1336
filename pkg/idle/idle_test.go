package idle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
	"github.com/Dardin-dale/huginbot-sub000/pkg/lifecycle"
	"github.com/Dardin-dale/huginbot-sub000/pkg/notify"
)

type fakeProvider struct {
	mu            sync.Mutex
	inst          compute.Instance
	describeErrs  []error
	stopErrs      []error
	describeCalls int
	stopCalls     int
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) Describe(ctx context.Context) (compute.Instance, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.describeCalls++
	if len(p.describeErrs) > 0 {
		err := p.describeErrs[0]
		p.describeErrs = p.describeErrs[1:]
		if err != nil {
			return compute.Instance{}, err
		}
	}
	return p.inst, nil
}

func (p *fakeProvider) Start(ctx context.Context) error { return nil }

func (p *fakeProvider) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalls++
	if len(p.stopErrs) > 0 {
		err := p.stopErrs[0]
		p.stopErrs = p.stopErrs[1:]
		return err
	}
	return nil
}

type fakeNotifier struct {
	events []notify.Event
}

func (n *fakeNotifier) Dispatch(ctx context.Context, event notify.Event) {
	n.events = append(n.events, event)
}

type monitorFixture struct {
	provider *fakeProvider
	notifier *fakeNotifier
	monitor  *Monitor
	sleeps   []time.Duration
	now      time.Time
}

func newFixture(t *testing.T, state compute.InstanceState, uptime time.Duration) *monitorFixture {
	t.Helper()

	fx := &monitorFixture{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	fx.provider = &fakeProvider{
		inst: compute.Instance{ID: "i-0abc123", State: state},
	}
	if uptime > 0 {
		fx.provider.inst.LaunchedAt = fx.now.Add(-uptime)
	}
	fx.notifier = &fakeNotifier{}

	monitor, err := NewMonitor(Config{
		Provider:   fx.provider,
		Notifier:   fx.notifier,
		MinUptime:  10 * time.Minute,
		IdleWindow: 10 * time.Minute,
		Retry: lifecycle.RetryPolicy{
			MaxAttempts: 3,
			Backoff:     time.Second,
			Timeout:     time.Second,
			Sleep: func(_ context.Context, d time.Duration) error {
				fx.sleeps = append(fx.sleeps, d)
				return nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	monitor.now = func() time.Time { return fx.now }
	fx.monitor = monitor
	return fx
}

func TestHandleAlarmStopsIdleInstance(t *testing.T) {
	fx := newFixture(t, compute.StateRunning, 90*time.Minute)

	decision, err := fx.monitor.HandleAlarm(context.Background(), "valheim-idle")
	if err != nil {
		t.Fatalf("HandleAlarm() error = %v", err)
	}
	if decision != DecisionStopped {
		t.Errorf("Decision = %q, want stopped", decision)
	}
	if fx.provider.stopCalls != 1 {
		t.Errorf("Expected 1 provider stop, got %d", fx.provider.stopCalls)
	}

	if len(fx.notifier.events) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(fx.notifier.events))
	}
	ev, ok := fx.notifier.events[0].(notify.IdleShutdownEvent)
	if !ok {
		t.Fatalf("Expected an IdleShutdownEvent, got %T", fx.notifier.events[0])
	}
	if ev.UptimeMinutes != 90 {
		t.Errorf("UptimeMinutes = %d, want 90", ev.UptimeMinutes)
	}
	if ev.IdleMinutes != 10 {
		t.Errorf("IdleMinutes = %d, want 10", ev.IdleMinutes)
	}
}

func TestHandleAlarmGracePeriod(t *testing.T) {
	fx := newFixture(t, compute.StateRunning, 5*time.Minute)

	decision, err := fx.monitor.HandleAlarm(context.Background(), "valheim-idle")
	if err != nil {
		t.Fatalf("HandleAlarm() error = %v", err)
	}
	if decision != DecisionGrace {
		t.Errorf("Decision = %q, want grace", decision)
	}
	if fx.provider.stopCalls != 0 {
		t.Errorf("Expected no stop inside the grace period, got %d", fx.provider.stopCalls)
	}
	if len(fx.notifier.events) != 0 {
		t.Errorf("Expected no events, got %d", len(fx.notifier.events))
	}
}

func TestHandleAlarmGraceBoundary(t *testing.T) {
	fx := newFixture(t, compute.StateRunning, 10*time.Minute)

	decision, err := fx.monitor.HandleAlarm(context.Background(), "valheim-idle")
	if err != nil {
		t.Fatalf("HandleAlarm() error = %v", err)
	}
	if decision != DecisionStopped {
		t.Errorf("Decision at exactly the grace boundary = %q, want stopped", decision)
	}
}

func TestHandleAlarmStaleStates(t *testing.T) {
	states := []compute.InstanceState{
		compute.StateStopped,
		compute.StateStopping,
		compute.StatePending,
		compute.StateUnknown,
	}

	for _, state := range states {
		t.Run(state.String(), func(t *testing.T) {
			fx := newFixture(t, state, 0)

			decision, err := fx.monitor.HandleAlarm(context.Background(), "valheim-idle")
			if err != nil {
				t.Fatalf("HandleAlarm() error = %v", err)
			}
			if decision != DecisionStale {
				t.Errorf("Decision = %q, want stale", decision)
			}
			if fx.provider.stopCalls != 0 || len(fx.notifier.events) != 0 {
				t.Error("Expected a stale alarm to be dropped without side effects")
			}
		})
	}
}

func TestHandleAlarmDescribeFailure(t *testing.T) {
	fx := newFixture(t, compute.StateRunning, time.Hour)
	throttle := &compute.ProviderError{Provider: "fake", Op: "describe", Err: errors.New("rate exceeded"), Temporary: true}
	fx.provider.describeErrs = []error{throttle, throttle, throttle}

	decision, err := fx.monitor.HandleAlarm(context.Background(), "valheim-idle")
	if !lifecycle.IsTransient(err) {
		t.Fatalf("Expected a transient error, got %v", err)
	}
	if decision != DecisionError {
		t.Errorf("Decision = %q, want error", decision)
	}
	if fx.provider.describeCalls != 3 {
		t.Errorf("Expected the describe to be retried, got %d calls", fx.provider.describeCalls)
	}
}

func TestHandleAlarmStopRetries(t *testing.T) {
	fx := newFixture(t, compute.StateRunning, time.Hour)
	throttle := &compute.ProviderError{Provider: "fake", Op: "stop", Err: errors.New("rate exceeded"), Temporary: true}
	fx.provider.stopErrs = []error{throttle, throttle}

	decision, err := fx.monitor.HandleAlarm(context.Background(), "valheim-idle")
	if err != nil {
		t.Fatalf("HandleAlarm() error = %v", err)
	}
	if decision != DecisionStopped {
		t.Errorf("Decision = %q, want stopped", decision)
	}
	if fx.provider.stopCalls != 3 {
		t.Errorf("Expected 3 stop attempts, got %d", fx.provider.stopCalls)
	}
}

func TestHandleAlarmStopFailure(t *testing.T) {
	fx := newFixture(t, compute.StateRunning, time.Hour)
	throttle := &compute.ProviderError{Provider: "fake", Op: "stop", Err: errors.New("rate exceeded"), Temporary: true}
	fx.provider.stopErrs = []error{throttle, throttle, throttle}

	decision, err := fx.monitor.HandleAlarm(context.Background(), "valheim-idle")
	if !lifecycle.IsTransient(err) {
		t.Fatalf("Expected a transient error, got %v", err)
	}
	if decision != DecisionError {
		t.Errorf("Decision = %q, want error", decision)
	}
	if len(fx.notifier.events) != 0 {
		t.Error("Expected no shutdown notice when the stop failed")
	}
}

func TestNewMonitorValidation(t *testing.T) {
	if _, err := NewMonitor(Config{Notifier: &fakeNotifier{}}); err == nil {
		t.Error("Expected an error without a provider")
	}
	if _, err := NewMonitor(Config{Provider: &fakeProvider{}}); err == nil {
		t.Error("Expected an error without a notifier")
	}

	m, err := NewMonitor(Config{Provider: &fakeProvider{}, Notifier: &fakeNotifier{}})
	if err != nil {
		t.Fatalf("NewMonitor() error = %v", err)
	}
	if m.minUptime != DefaultMinUptime || m.idleWindow != DefaultIdleWindow {
		t.Errorf("Defaults = %v/%v, want %v/%v", m.minUptime, m.idleWindow, DefaultMinUptime, DefaultIdleWindow)
	}
}
