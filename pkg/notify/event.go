// Package notify delivers lifecycle notifications to the webhook endpoint
// bound to the guild that owns the active world. Delivery is best-effort:
// the dispatcher retries transient failures, falls back to a plain-text
// payload when the rich one cannot be delivered, and never surfaces a
// delivery failure to the lifecycle action that produced the event.
package notify

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
)

// EventType identifies which lifecycle moment a notification describes.
type EventType string

const (
	EventReady           EventType = "ready"
	EventBackupCompleted EventType = "backup_completed"
	EventStopped         EventType = "stopped"
	EventIdleShutdown    EventType = "idle_shutdown"
)

// Event is one notification-worthy state change. Events are constructed
// at trigger time, rendered at dispatch time, and never persisted.
type Event interface {
	Type() EventType

	// render produces the rich payload posted on the primary budget.
	render(now time.Time) embed

	// fallbackText produces the minimal plain-text rendering posted when
	// the rich payload could not be delivered.
	fallbackText() string
}

// Embed colors, in the endpoint's decimal RGB convention.
const (
	colorGreen  = 0x2ecc71
	colorBlue   = 0x3498db
	colorOrange = 0xe67e22
	colorRed    = 0xe74c3c
)

// message is the wire payload. Rich deliveries carry one embed; fallback
// deliveries carry plain content only.
type message struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Fields      []embedField `json:"fields,omitempty"`
}

type embedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// ReadyEvent announces that the server finished booting and players can
// connect.
type ReadyEvent struct {
	World    string
	JoinCode string
}

// Type implements Event.
func (e ReadyEvent) Type() EventType { return EventReady }

func (e ReadyEvent) render(now time.Time) embed {
	fields := []embedField{
		{Name: "World", Value: e.World, Inline: true},
	}
	if e.JoinCode != "" {
		fields = append(fields, embedField{Name: "Join Code", Value: e.JoinCode, Inline: true})
	}
	return embed{
		Title:       "Server Ready",
		Description: "The server is up and accepting players.",
		Color:       colorGreen,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (e ReadyEvent) fallbackText() string {
	if e.JoinCode == "" {
		return fmt.Sprintf("Server ready: %s is up.", e.World)
	}
	return fmt.Sprintf("Server ready: %s is up. Join code: %s", e.World, e.JoinCode)
}

// BackupCompletedEvent announces a finished world backup.
type BackupCompletedEvent struct {
	World     string
	SizeBytes int64
}

// Type implements Event.
func (e BackupCompletedEvent) Type() EventType { return EventBackupCompleted }

func (e BackupCompletedEvent) render(now time.Time) embed {
	return embed{
		Title:       "Backup Completed",
		Description: fmt.Sprintf("World data for %s was archived.", e.World),
		Color:       colorBlue,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Fields: []embedField{
			{Name: "World", Value: e.World, Inline: true},
			{Name: "Size", Value: humanize.IBytes(uint64(e.SizeBytes)), Inline: true},
		},
	}
}

func (e BackupCompletedEvent) fallbackText() string {
	return fmt.Sprintf("Backup completed for %s (%s).", e.World, humanize.IBytes(uint64(e.SizeBytes)))
}

// StoppedEvent announces that the server stopped, and whether a backup
// ran first.
type StoppedEvent struct {
	Reason          string
	BackupCompleted bool
	BackupError     string
}

// Type implements Event.
func (e StoppedEvent) Type() EventType { return EventStopped }

func (e StoppedEvent) render(now time.Time) embed {
	backup := "completed"
	color := colorOrange
	if !e.BackupCompleted {
		backup = "skipped"
		if e.BackupError != "" && e.BackupError != "skipped" {
			backup = "failed: " + e.BackupError
			color = colorRed
		}
	}
	return embed{
		Title:     "Server Stopped",
		Color:     color,
		Timestamp: now.UTC().Format(time.RFC3339),
		Fields: []embedField{
			{Name: "Reason", Value: e.Reason, Inline: true},
			{Name: "Backup", Value: backup, Inline: true},
		},
	}
}

func (e StoppedEvent) fallbackText() string {
	return fmt.Sprintf("Server stopped (%s).", e.Reason)
}

// IdleShutdownEvent announces an automatic shutdown after a period with
// no player activity.
type IdleShutdownEvent struct {
	IdleMinutes   int
	UptimeMinutes int
}

// Type implements Event.
func (e IdleShutdownEvent) Type() EventType { return EventIdleShutdown }

func (e IdleShutdownEvent) render(now time.Time) embed {
	return embed{
		Title:       "Idle Shutdown",
		Description: "No player activity was detected, so the server is shutting down.",
		Color:       colorOrange,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Fields: []embedField{
			{Name: "Idle", Value: fmt.Sprintf("%d min", e.IdleMinutes), Inline: true},
			{Name: "Uptime", Value: fmt.Sprintf("%d min", e.UptimeMinutes), Inline: true},
		},
	}
}

func (e IdleShutdownEvent) fallbackText() string {
	return fmt.Sprintf("Server idle for %d minutes; shutting down.", e.IdleMinutes)
}

// isStopNotice reports whether an event announces a server stop. Stop
// notices advance the per-guild watermark the fallback suppression check
// reads.
func isStopNotice(event Event) bool {
	switch event.Type() {
	case EventStopped, EventIdleShutdown:
		return true
	default:
		return false
	}
}
