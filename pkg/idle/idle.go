// Package idle turns player-inactivity alarms into instance stops. The
// alarm itself comes from the monitoring plane; the monitor here only
// decides whether acting on it is still appropriate by the time the
// signal arrives.
package idle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
	"github.com/Dardin-dale/huginbot-sub000/pkg/lifecycle"
	"github.com/Dardin-dale/huginbot-sub000/pkg/notify"
	"github.com/Dardin-dale/huginbot-sub000/pkg/telemetry"
)

const (
	// DefaultMinUptime is the grace period after boot during which idle
	// alarms are ignored. A freshly started server has no players yet
	// and would otherwise be stopped before anyone can join.
	DefaultMinUptime = 10 * time.Minute

	// DefaultIdleWindow is the player-inactivity window the alarm
	// evaluates, reported in the shutdown notice.
	DefaultIdleWindow = 10 * time.Minute
)

// Decision labels what the monitor did with an alarm.
type Decision string

const (
	// DecisionStopped means the instance was stopped.
	DecisionStopped Decision = "stopped"

	// DecisionStale means the alarm arrived for an instance that is no
	// longer running.
	DecisionStale Decision = "stale"

	// DecisionGrace means the instance is inside the post-boot grace
	// period and was left alone.
	DecisionGrace Decision = "grace"

	// DecisionError means the monitor could not act on the alarm.
	DecisionError Decision = "error"
)

// Notifier delivers the shutdown notice. Failures never undo the stop.
type Notifier interface {
	Dispatch(ctx context.Context, event notify.Event)
}

// Config wires a Monitor.
type Config struct {
	// Provider controls the compute instance. Required.
	Provider compute.Provider

	// Notifier announces idle shutdowns. Required.
	Notifier Notifier

	// MinUptime is the post-boot grace period. Zero means DefaultMinUptime.
	MinUptime time.Duration

	// IdleWindow is the inactivity window the alarm evaluates. Zero
	// means DefaultIdleWindow.
	IdleWindow time.Duration

	// Retry bounds provider calls. Zero value means the default policy.
	Retry lifecycle.RetryPolicy

	// Metrics records idle-check decisions. Optional.
	Metrics *telemetry.Metrics
}

// Monitor decides whether an idle alarm should stop the instance.
type Monitor struct {
	provider   compute.Provider
	notifier   Notifier
	minUptime  time.Duration
	idleWindow time.Duration
	retry      lifecycle.RetryPolicy
	metrics    *telemetry.Metrics

	// now is replaced in tests.
	now func() time.Time
}

// NewMonitor validates the wiring and returns a ready monitor.
func NewMonitor(cfg Config) (*Monitor, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("idle monitor requires a compute provider")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("idle monitor requires a notifier")
	}

	m := &Monitor{
		provider:   cfg.Provider,
		notifier:   cfg.Notifier,
		minUptime:  cfg.MinUptime,
		idleWindow: cfg.IdleWindow,
		retry:      cfg.Retry,
		metrics:    cfg.Metrics,
		now:        time.Now,
	}
	if m.minUptime <= 0 {
		m.minUptime = DefaultMinUptime
	}
	if m.idleWindow <= 0 {
		m.idleWindow = DefaultIdleWindow
	}
	if m.retry.MaxAttempts == 0 {
		m.retry = lifecycle.DefaultRetryPolicy()
	}

	return m, nil
}

// HandleAlarm acts on one idle alarm. Alarms raced by a manual stop or
// start are dropped as stale; an instance still inside the grace period
// is left alone. The idle path stops the instance directly, without the
// backup-and-stop script; the server's periodic in-game saves are the
// only copy taken here.
func (m *Monitor) HandleAlarm(ctx context.Context, alarmID string) (Decision, error) {
	var inst compute.Instance
	err := m.retry.Do(ctx, "describe", func(ctx context.Context) error {
		var derr error
		inst, derr = m.provider.Describe(ctx)
		return derr
	})
	if err != nil {
		m.metrics.RecordIdleCheck(string(DecisionError))
		return DecisionError, lifecycle.NewTransientError(
			"could not read the instance state for an idle alarm", err).
			WithCode(lifecycle.ErrCodeProviderFailed).
			WithOperation("idle-check")
	}

	if inst.State != compute.StateRunning {
		log.Info().
			Str("alarm_id", alarmID).
			Str("state", inst.State.String()).
			Msg("Idle alarm is stale; instance is not running")
		m.metrics.RecordIdleCheck(string(DecisionStale))
		return DecisionStale, nil
	}

	uptime := inst.Uptime(m.now())
	if uptime < m.minUptime {
		log.Info().
			Str("alarm_id", alarmID).
			Dur("uptime", uptime).
			Dur("min_uptime", m.minUptime).
			Msg("Idle alarm inside the post-boot grace period; ignoring")
		m.metrics.RecordIdleCheck(string(DecisionGrace))
		return DecisionGrace, nil
	}

	err = m.retry.Do(ctx, "stop", func(ctx context.Context) error {
		return m.provider.Stop(ctx)
	})
	if err != nil {
		m.metrics.RecordIdleCheck(string(DecisionError))
		return DecisionError, lifecycle.NewTransientError(
			"failed to stop the idle instance", err).
			WithCode(lifecycle.ErrCodeProviderFailed).
			WithOperation("idle-stop")
	}

	log.Info().
		Str("alarm_id", alarmID).
		Dur("uptime", uptime).
		Msg("Stopped idle instance")

	m.notifier.Dispatch(ctx, notify.IdleShutdownEvent{
		IdleMinutes:   int(m.idleWindow.Minutes()),
		UptimeMinutes: int(uptime.Minutes()),
	})

	m.metrics.RecordIdleCheck(string(DecisionStopped))
	return DecisionStopped, nil
}
