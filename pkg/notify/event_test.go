package notify

import (
	"strings"
	"testing"
	"time"
)

// TestEventRendering tests the embed each event type produces
func TestEventRendering(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		event     Event
		wantTitle string
		wantColor int
	}{
		{"ready", ReadyEvent{World: "Midgard", JoinCode: "BRAVO-7431"}, "Server Ready", colorGreen},
		{"backup", BackupCompletedEvent{World: "Midgard", SizeBytes: 1536}, "Backup Completed", colorBlue},
		{"stopped clean", StoppedEvent{Reason: "requested", BackupCompleted: true}, "Server Stopped", colorOrange},
		{"stopped backup failed", StoppedEvent{Reason: "requested", BackupError: "disk full"}, "Server Stopped", colorRed},
		{"idle", IdleShutdownEvent{IdleMinutes: 20, UptimeMinutes: 95}, "Idle Shutdown", colorOrange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.event.render(now)
			if e.Title != tt.wantTitle {
				t.Errorf("expected title %q, got %q", tt.wantTitle, e.Title)
			}
			if e.Color != tt.wantColor {
				t.Errorf("expected color %#x, got %#x", tt.wantColor, e.Color)
			}
			if e.Timestamp != "2025-06-01T12:00:00Z" {
				t.Errorf("unexpected timestamp %q", e.Timestamp)
			}
		})
	}
}

// TestReadyRenderJoinCode tests that the join code field only appears
// when a code was issued
func TestReadyRenderJoinCode(t *testing.T) {
	now := time.Now()

	with := ReadyEvent{World: "Midgard", JoinCode: "BRAVO-7431"}.render(now)
	found := false
	for _, f := range with.Fields {
		if f.Name == "Join Code" && f.Value == "BRAVO-7431" {
			found = true
		}
	}
	if !found {
		t.Error("expected a Join Code field when a code was issued")
	}

	without := ReadyEvent{World: "Midgard"}.render(now)
	for _, f := range without.Fields {
		if f.Name == "Join Code" {
			t.Error("expected no Join Code field without a code")
		}
	}
}

// TestStoppedRenderBackupStates tests the three backup outcomes
func TestStoppedRenderBackupStates(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		event StoppedEvent
		want  string
	}{
		{"completed", StoppedEvent{Reason: "requested", BackupCompleted: true}, "completed"},
		{"skipped", StoppedEvent{Reason: "forced", BackupError: "skipped"}, "skipped"},
		{"failed", StoppedEvent{Reason: "requested", BackupError: "disk full"}, "failed: disk full"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := tt.event.render(now)
			got := ""
			for _, f := range e.Fields {
				if f.Name == "Backup" {
					got = f.Value
				}
			}
			if got != tt.want {
				t.Errorf("expected backup field %q, got %q", tt.want, got)
			}
		})
	}
}

// TestBackupFallbackFormatsSize tests the human-readable size rendering
func TestBackupFallbackFormatsSize(t *testing.T) {
	text := BackupCompletedEvent{World: "Midgard", SizeBytes: 300 << 20}.fallbackText()
	if !strings.Contains(text, "300 MiB") {
		t.Errorf("expected a humanized size, got %q", text)
	}
}

// TestIsStopNotice tests which events count toward the suppression
// watermark
func TestIsStopNotice(t *testing.T) {
	tests := []struct {
		event Event
		want  bool
	}{
		{ReadyEvent{}, false},
		{BackupCompletedEvent{}, false},
		{StoppedEvent{}, true},
		{IdleShutdownEvent{}, true},
	}

	for _, tt := range tests {
		if got := isStopNotice(tt.event); got != tt.want {
			t.Errorf("isStopNotice(%s) = %v, want %v", tt.event.Type(), got, tt.want)
		}
	}
}
