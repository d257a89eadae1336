// Package triggers defines the inbound signal payloads the ingest
// surface accepts: idle alarms from the monitoring plane, instance
// state-change reports from infrastructure detection, and lifecycle
// hooks the game host fires as it boots, backs up, and stops. Payloads
// are plain JSON structs validated before any component acts on them.
package triggers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// IdleAlarm reports that the player-inactivity alarm fired.
type IdleAlarm struct {
	// AlarmID identifies the alarm in the monitoring plane.
	AlarmID string `json:"alarmId" validate:"required,max=256"`

	// Trigger is the human-readable description of what tripped the
	// alarm, passed through for logging only.
	Trigger string `json:"trigger,omitempty" validate:"max=1024"`
}

// InstanceStateChange reports an instance state observed by
// infrastructure-level change detection. It carries no detail beyond
// the state name; a "stopped" report is the low-information fallback
// stop signal.
type InstanceStateChange struct {
	// InstanceID is the instance the report concerns.
	InstanceID string `json:"instanceId" validate:"required,max=64"`

	// State is the provider-reported state name.
	State string `json:"state" validate:"required,oneof=pending running stopping stopped"`
}

// Stopped reports whether the state is the fallback stop signal.
func (s InstanceStateChange) Stopped() bool {
	return strings.EqualFold(s.State, "stopped")
}

// ServerReady is fired by the game host once the server process accepts
// players.
type ServerReady struct {
	// JoinCode is the short-lived connection token the game process
	// printed, empty when the server runs without one.
	JoinCode string `json:"joinCode,omitempty" validate:"max=32"`
}

// BackupCompleted is fired by the backup script after the world archive
// is written.
type BackupCompleted struct {
	// SizeBytes is the size of the archive.
	SizeBytes int64 `json:"sizeBytes" validate:"gte=0"`

	// Archive is the archive file name, passed through for logging.
	Archive string `json:"archive,omitempty" validate:"max=256"`
}

// ServerStopped is fired by the game host as its final act before
// shutdown, reporting how the stop went.
type ServerStopped struct {
	// Reason labels why the server stopped (e.g. "requested", "crash").
	Reason string `json:"reason" validate:"required,max=128"`

	// BackupCompleted reports whether a backup ran before the stop.
	BackupCompleted bool `json:"backupCompleted"`

	// BackupError carries the backup failure message when one occurred.
	BackupError string `json:"backupError,omitempty" validate:"max=1024"`
}

var validate = validator.New()

// Validate checks a signal payload against its constraints and returns
// a single message naming the first offending field.
func Validate(signal any) error {
	err := validate.Struct(signal)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("field %s is required", fieldName(fe))
		case "oneof":
			return fmt.Errorf("field %s must be one of: %s", fieldName(fe), fe.Param())
		case "max":
			return fmt.Errorf("field %s exceeds %s characters", fieldName(fe), fe.Param())
		case "gte":
			return fmt.Errorf("field %s must be at least %s", fieldName(fe), fe.Param())
		default:
			return fmt.Errorf("field %s is invalid", fieldName(fe))
		}
	}
	return err
}

// fieldName lowercases the struct field's first rune to match the JSON
// spelling callers sent.
func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return "?"
	}
	return strings.ToLower(name[:1]) + name[1:]
}
