package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
)

func fastWait() WaitConfig {
	return WaitConfig{Interval: 5 * time.Millisecond, Timeout: time.Second}
}

func TestWaitReachesTarget(t *testing.T) {
	fx := newFixture(t, compute.StatePending)
	fx.provider.states = []compute.InstanceState{
		compute.StatePending,
		compute.StatePending,
		compute.StateRunning,
	}

	var seen []compute.InstanceState
	cfg := fastWait()
	cfg.OnPoll = func(inst compute.Instance) { seen = append(seen, inst.State) }

	inst, err := fx.ctrl.Wait(context.Background(), compute.StateRunning, cfg)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if inst.State != compute.StateRunning {
		t.Errorf("State = %q, want running", inst.State)
	}
	if fx.provider.describeCalls != 3 {
		t.Errorf("Expected 3 polls, got %d", fx.provider.describeCalls)
	}
	if len(seen) != 3 || seen[2] != compute.StateRunning {
		t.Errorf("OnPoll observations = %v", seen)
	}
}

func TestWaitDetectsSettlingElsewhere(t *testing.T) {
	fx := newFixture(t, compute.StatePending)
	fx.provider.states = []compute.InstanceState{
		compute.StatePending,
		compute.StateStopped,
	}

	inst, err := fx.ctrl.Wait(context.Background(), compute.StateRunning, fastWait())
	if !IsTransient(err) {
		t.Fatalf("Expected a transient error, got %v", err)
	}
	if !strings.Contains(err.Error(), "settled") {
		t.Errorf("Error = %q, want a settled-state message", err.Error())
	}
	if inst.State != compute.StateStopped {
		t.Errorf("Last snapshot = %q, want stopped", inst.State)
	}
}

func TestWaitToleratesLaggingDescribe(t *testing.T) {
	fx := newFixture(t, compute.StateRunning)
	fx.provider.states = []compute.InstanceState{
		compute.StateRunning,
		compute.StateRunning,
		compute.StateStopping,
		compute.StateStopped,
	}

	inst, err := fx.ctrl.Wait(context.Background(), compute.StateStopped, fastWait())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if inst.State != compute.StateStopped {
		t.Errorf("State = %q, want stopped", inst.State)
	}
	if fx.provider.describeCalls != 4 {
		t.Errorf("Expected 4 polls, got %d", fx.provider.describeCalls)
	}
}

func TestWaitTimesOut(t *testing.T) {
	fx := newFixture(t, compute.StatePending)

	cfg := WaitConfig{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond}
	inst, err := fx.ctrl.Wait(context.Background(), compute.StateRunning, cfg)
	if !IsTransient(err) {
		t.Fatalf("Expected a transient error, got %v", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("Error = %q, want a timeout message", err.Error())
	}
	if inst.State != compute.StatePending {
		t.Errorf("Last snapshot = %q, want pending", inst.State)
	}
}

func TestWaitCanceled(t *testing.T) {
	fx := newFixture(t, compute.StatePending)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(15 * time.Millisecond)
		cancel()
	}()

	_, err := fx.ctrl.Wait(ctx, compute.StateRunning, WaitConfig{Interval: 5 * time.Millisecond, Timeout: time.Minute})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
}

func TestWaitPollsThroughDescribeFailures(t *testing.T) {
	fx := newFixture(t, compute.StateRunning)
	throttle := &compute.ProviderError{Provider: "fake", Op: "describe", Err: errors.New("rate exceeded"), Temporary: true}
	fx.provider.describeErrs = []error{throttle, throttle}

	inst, err := fx.ctrl.Wait(context.Background(), compute.StateRunning, fastWait())
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if inst.State != compute.StateRunning {
		t.Errorf("State = %q, want running", inst.State)
	}
	if fx.provider.describeCalls != 3 {
		t.Errorf("Expected failed polls to be absorbed, got %d describes", fx.provider.describeCalls)
	}
}

func TestWaitMissingInstance(t *testing.T) {
	fx := newFixture(t, compute.StatePending)
	fx.provider.describeErrs = []error{&compute.ProviderError{
		Provider: "fake", Op: "describe", Err: compute.ErrInstanceNotFound,
	}}

	_, err := fx.ctrl.Wait(context.Background(), compute.StateRunning, fastWait())
	if !IsConfig(err) {
		t.Fatalf("Expected a configuration error, got %v", err)
	}
	if code := errCode(t, err); code != ErrCodeInstanceMissing {
		t.Errorf("Code = %q, want %q", code, ErrCodeInstanceMissing)
	}
	if fx.provider.describeCalls != 1 {
		t.Errorf("Expected the wait to stop on the first poll, got %d", fx.provider.describeCalls)
	}
}
