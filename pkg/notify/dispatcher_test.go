package notify

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

type postCall struct {
	url     string
	payload message
}

// fakePoster records every post and pops one scripted error per call.
type fakePoster struct {
	calls  []postCall
	script []error
}

func (f *fakePoster) Post(_ context.Context, url string, payload any) error {
	m, _ := payload.(message)
	f.calls = append(f.calls, postCall{url: url, payload: m})

	if len(f.script) == 0 {
		return nil
	}
	err := f.script[0]
	f.script = f.script[1:]
	return err
}

// fakeParams is an in-memory stand-in for the parameter store.
type fakeParams struct {
	active       *params.ActiveWorld
	activeErr    error
	webhooks     map[string]*params.WebhookBinding
	watermarks   map[string]time.Time
	watermarkErr error
	markCalls    int
}

func newFakeParams() *fakeParams {
	return &fakeParams{
		active: &params.ActiveWorld{
			GuildID: "guild-a",
			World:   worlds.WorldConfig{DisplayName: "Midgard", WorldID: "midgard-main", Password: "secret99"},
		},
		webhooks: map[string]*params.WebhookBinding{
			"guild-a": {GuildID: "guild-a", URL: "https://hooks.example.com/aaa"},
		},
		watermarks: make(map[string]time.Time),
	}
}

func (f *fakeParams) ActiveWorld(_ context.Context) (*params.ActiveWorld, error) {
	if f.activeErr != nil {
		return nil, f.activeErr
	}
	if f.active == nil {
		return nil, fmt.Errorf("%w: %s", params.ErrNotFound, "active-world")
	}
	return f.active, nil
}

func (f *fakeParams) Webhook(_ context.Context, guildID string) (*params.WebhookBinding, error) {
	binding, ok := f.webhooks[guildID]
	if !ok {
		return nil, fmt.Errorf("%w: webhook/%s", params.ErrNotFound, guildID)
	}
	return binding, nil
}

func (f *fakeParams) MarkStopNotice(_ context.Context, guildID string, at time.Time) error {
	f.markCalls++
	f.watermarks[guildID] = at
	return nil
}

func (f *fakeParams) LastStopNotice(_ context.Context, guildID string) (time.Time, error) {
	if f.watermarkErr != nil {
		return time.Time{}, f.watermarkErr
	}
	at, ok := f.watermarks[guildID]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: stop-notice/%s", params.ErrNotFound, guildID)
	}
	return at, nil
}

func testConfig() Config {
	return Config{
		MaxAttempts:         3,
		FallbackMaxAttempts: 2,
		Backoff:             time.Second,
		Timeout:             time.Second,
		SuppressionWindow:   2 * time.Minute,
	}
}

// newTestDispatcher wires a dispatcher whose sleeps are recorded instead
// of slept.
func newTestDispatcher(source ParamSource, poster Poster, cfg Config) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(source, poster, cfg, nil)
	delays := &[]time.Duration{}
	d.sleep = func(_ context.Context, dur time.Duration) error {
		*delays = append(*delays, dur)
		return nil
	}
	return d, delays
}

func serverError() error {
	return &DeliveryError{StatusCode: 503, Err: fmt.Errorf("HTTP 503: Service Unavailable")}
}

// TestDispatchDeliversRichPayload tests the happy path
func TestDispatchDeliversRichPayload(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{}
	d, _ := newTestDispatcher(source, poster, testConfig())

	d.Dispatch(context.Background(), ReadyEvent{World: "Midgard", JoinCode: "BRAVO-7431"})

	if len(poster.calls) != 1 {
		t.Fatalf("expected 1 post, got %d", len(poster.calls))
	}

	call := poster.calls[0]
	if call.url != "https://hooks.example.com/aaa" {
		t.Errorf("expected post to bound endpoint, got %s", call.url)
	}
	if len(call.payload.Embeds) != 1 {
		t.Fatalf("expected 1 embed, got %d", len(call.payload.Embeds))
	}
	if call.payload.Embeds[0].Title != "Server Ready" {
		t.Errorf("expected Server Ready embed, got %s", call.payload.Embeds[0].Title)
	}
	if call.payload.Content != "" {
		t.Errorf("expected no plain content on the rich payload, got %q", call.payload.Content)
	}
}

// TestDispatchRetriesThenFallsBack tests the 503,503,503,200 sequence:
// the rich budget burns three attempts, then the first fallback attempt
// lands.
func TestDispatchRetriesThenFallsBack(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{script: []error{serverError(), serverError(), serverError(), nil}}
	d, delays := newTestDispatcher(source, poster, testConfig())

	d.Dispatch(context.Background(), ReadyEvent{World: "Midgard"})

	if len(poster.calls) != 4 {
		t.Fatalf("expected 3 failed attempts plus 1 successful delivery, got %d posts", len(poster.calls))
	}

	for i := 0; i < 3; i++ {
		if len(poster.calls[i].payload.Embeds) != 1 {
			t.Errorf("expected attempt %d to carry the rich payload", i+1)
		}
	}
	if poster.calls[3].payload.Content == "" || len(poster.calls[3].payload.Embeds) != 0 {
		t.Error("expected the final delivery to be the plain-text fallback")
	}

	// Backoff grows linearly with the attempt number.
	want := []time.Duration{time.Second, 2 * time.Second}
	if len(*delays) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %d", len(want), len(*delays))
	}
	for i, dur := range want {
		if (*delays)[i] != dur {
			t.Errorf("expected backoff %d to be %v, got %v", i+1, dur, (*delays)[i])
		}
	}
}

// TestDispatchClientErrorNeverRetried tests that a 4xx stops delivery cold
func TestDispatchClientErrorNeverRetried(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{script: []error{&DeliveryError{StatusCode: 404, Err: fmt.Errorf("HTTP 404: Not Found")}}}
	d, delays := newTestDispatcher(source, poster, testConfig())

	d.Dispatch(context.Background(), ReadyEvent{World: "Midgard"})

	if len(poster.calls) != 1 {
		t.Fatalf("expected exactly 1 post for a client error, got %d", len(poster.calls))
	}
	if len(*delays) != 0 {
		t.Errorf("expected no backoff sleeps, got %d", len(*delays))
	}
}

// TestDispatchGivesUpSilently tests exhaustion of both budgets
func TestDispatchGivesUpSilently(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{script: []error{
		serverError(), serverError(), serverError(), // rich budget
		serverError(), serverError(), // fallback budget
	}}
	d, _ := newTestDispatcher(source, poster, testConfig())

	d.Dispatch(context.Background(), StoppedEvent{Reason: "requested", BackupCompleted: true})

	if len(poster.calls) != 5 {
		t.Fatalf("expected 5 posts across both budgets, got %d", len(poster.calls))
	}
	if source.markCalls != 0 {
		t.Errorf("expected no watermark write for an undelivered stop notice, got %d", source.markCalls)
	}
}

// TestDispatchUnresolvableDrops tests the log-and-drop paths
func TestDispatchUnresolvableDrops(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeParams)
	}{
		{"no active world", func(f *fakeParams) { f.active = nil }},
		{"active world store error", func(f *fakeParams) { f.activeErr = errors.New("database is locked") }},
		{"no owning guild", func(f *fakeParams) { f.active.GuildID = "" }},
		{"no webhook binding", func(f *fakeParams) { delete(f.webhooks, "guild-a") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeParams()
			tt.mutate(source)
			poster := &fakePoster{}
			d, _ := newTestDispatcher(source, poster, testConfig())

			d.Dispatch(context.Background(), ReadyEvent{World: "Midgard"})

			if len(poster.calls) != 0 {
				t.Errorf("expected 0 posts, got %d", len(poster.calls))
			}
		})
	}
}

// TestDispatchStoppedAdvancesWatermark tests the dedup bookkeeping
func TestDispatchStoppedAdvancesWatermark(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{}
	d, _ := newTestDispatcher(source, poster, testConfig())

	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return at }

	d.Dispatch(context.Background(), StoppedEvent{Reason: "requested", BackupCompleted: true})

	if source.markCalls != 1 {
		t.Fatalf("expected 1 watermark write, got %d", source.markCalls)
	}
	if got := source.watermarks["guild-a"]; !got.Equal(at) {
		t.Errorf("expected watermark %v, got %v", at, got)
	}
}

// TestDispatchIdleShutdownAdvancesWatermark tests that idle stops also
// count as stop notices for suppression purposes
func TestDispatchIdleShutdownAdvancesWatermark(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{}
	d, _ := newTestDispatcher(source, poster, testConfig())

	d.Dispatch(context.Background(), IdleShutdownEvent{IdleMinutes: 20, UptimeMinutes: 95})

	if source.markCalls != 1 {
		t.Errorf("expected 1 watermark write, got %d", source.markCalls)
	}
}

// TestDispatchReadyLeavesWatermark tests that non-stop events do not
// touch the watermark
func TestDispatchReadyLeavesWatermark(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{}
	d, _ := newTestDispatcher(source, poster, testConfig())

	d.Dispatch(context.Background(), ReadyEvent{World: "Midgard"})
	d.Dispatch(context.Background(), BackupCompletedEvent{World: "Midgard", SizeBytes: 1 << 20})

	if source.markCalls != 0 {
		t.Errorf("expected no watermark writes, got %d", source.markCalls)
	}
}

// TestFallbackStopSuppression tests the duplicate-stop window end to end
func TestFallbackStopSuppression(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		lastSent  time.Duration
		wantPosts int
	}{
		{"inside window", 60 * time.Second, 0},
		{"beyond window", 200 * time.Second, 1},
		{"at window edge", 120 * time.Second, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := newFakeParams()
			source.watermarks["guild-a"] = now.Add(-tt.lastSent)

			poster := &fakePoster{}
			d, _ := newTestDispatcher(source, poster, testConfig())
			d.now = func() time.Time { return now }

			d.DispatchFallbackStop(context.Background(), "")

			if len(poster.calls) != tt.wantPosts {
				t.Fatalf("expected %d posts, got %d", tt.wantPosts, len(poster.calls))
			}
			if tt.wantPosts == 1 {
				embeds := poster.calls[0].payload.Embeds
				if len(embeds) != 1 || embeds[0].Title != "Server Stopped" {
					t.Errorf("expected a Server Stopped embed, got %+v", embeds)
				}
				if source.markCalls != 1 {
					t.Errorf("expected the dispatched fallback to advance the watermark")
				}
			}
		})
	}
}

// TestFallbackStopWithNoWatermark tests first-ever fallback signals
func TestFallbackStopWithNoWatermark(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{}
	d, _ := newTestDispatcher(source, poster, testConfig())

	d.DispatchFallbackStop(context.Background(), "instance state change")

	if len(poster.calls) != 1 {
		t.Fatalf("expected 1 post with no prior watermark, got %d", len(poster.calls))
	}
}

// TestFallbackStopWatermarkReadFailure tests that an unreadable
// watermark fails open
func TestFallbackStopWatermarkReadFailure(t *testing.T) {
	source := newFakeParams()
	source.watermarkErr = errors.New("database is locked")
	poster := &fakePoster{}
	d, _ := newTestDispatcher(source, poster, testConfig())

	d.DispatchFallbackStop(context.Background(), "")

	if len(poster.calls) != 1 {
		t.Fatalf("expected 1 post when the watermark cannot be read, got %d", len(poster.calls))
	}
}

// TestDispatchCanceledBetweenRetries tests context cancellation during backoff
func TestDispatchCanceledBetweenRetries(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{script: []error{serverError(), serverError()}}
	d := NewDispatcher(source, poster, testConfig(), nil)
	d.sleep = func(_ context.Context, _ time.Duration) error {
		return context.Canceled
	}

	d.Dispatch(context.Background(), ReadyEvent{World: "Midgard"})

	if len(poster.calls) != 1 {
		t.Errorf("expected delivery to stop after cancellation, got %d posts", len(poster.calls))
	}
}

// TestTestDelivery tests the operator-facing binding check
func TestTestDelivery(t *testing.T) {
	source := newFakeParams()
	poster := &fakePoster{}
	d, _ := newTestDispatcher(source, poster, testConfig())

	if err := d.TestDelivery(context.Background(), "guild-a"); err != nil {
		t.Fatalf("expected test delivery to succeed: %v", err)
	}
	if len(poster.calls) != 1 || poster.calls[0].payload.Content == "" {
		t.Error("expected one plain-text test post")
	}

	if err := d.TestDelivery(context.Background(), "guild-unbound"); err == nil {
		t.Error("expected error for unbound guild")
	}
}
