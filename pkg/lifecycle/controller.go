package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
	"github.com/Dardin-dale/huginbot-sub000/pkg/guard"
	"github.com/Dardin-dale/huginbot-sub000/pkg/notify"
	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/telemetry"
	"github.com/Dardin-dale/huginbot-sub000/pkg/worlds"
)

// Resolver picks worlds and persists per-guild defaults.
type Resolver interface {
	Resolve(ctx context.Context, guildID, ref string) (*worlds.WorldConfig, error)
	SetDefault(ctx context.Context, guildID, ref string) (*worlds.WorldConfig, error)
}

// ParamStore is the slice of the parameter store the controller reads and
// writes.
type ParamStore interface {
	SetActiveWorld(ctx context.Context, guildID string, w worlds.WorldConfig) error
	ActiveWorld(ctx context.Context) (*params.ActiveWorld, error)
	ClearJoinCode(ctx context.Context) error
	CurrentJoinCode(ctx context.Context) (*params.JoinCode, error)
}

// Runner fires a command on the instance without awaiting its result.
type Runner interface {
	RunDetached(ctx context.Context, command string) error
}

// Notifier delivers lifecycle events. Dispatch reports nothing back;
// notification failures never fail the triggering operation.
type Notifier interface {
	Dispatch(ctx context.Context, event notify.Event)
}

// Guard approves or denies mutating operations.
type Guard interface {
	Check(ctx context.Context, input *guard.Input) (*guard.Decision, error)
}

// Outcome labels what a lifecycle operation decided.
type Outcome string

const (
	// OutcomeStarted means a provider start was issued.
	OutcomeStarted Outcome = "started"

	// OutcomeAlreadyStarting means the instance was already coming up.
	OutcomeAlreadyStarting Outcome = "already-starting"

	// OutcomeAlreadyRunning means the instance was already running.
	OutcomeAlreadyRunning Outcome = "already-running"

	// OutcomeAlreadyStopping means the instance was already shutting down.
	OutcomeAlreadyStopping Outcome = "already-stopping"

	// OutcomeAlreadyStopped means the instance was already stopped.
	OutcomeAlreadyStopped Outcome = "already-stopped"

	// OutcomeStopping means a stop was issued, directly or via the
	// backup-and-stop script.
	OutcomeStopping Outcome = "stopping"
)

// Result reports a lifecycle decision to the caller.
type Result struct {
	// Outcome labels the decision.
	Outcome Outcome `json:"outcome"`

	// State is the lifecycle state the instance is in, or was just asked
	// to enter, when the operation returned.
	State compute.InstanceState `json:"state"`

	// World is the display name of the world the operation concerned,
	// empty when no world was resolved.
	World string `json:"world,omitempty"`

	// Message is a short acknowledgement suitable for showing to users.
	Message string `json:"message"`
}

// Status combines the live instance snapshot with the stored world
// selection and any fresh join code.
type Status struct {
	// Instance is the live provider snapshot.
	Instance compute.Instance `json:"instance"`

	// Uptime is how long the instance has been up, zero unless running.
	Uptime time.Duration `json:"uptime"`

	// World is the persisted active world, nil when none was ever set.
	World *params.ActiveWorld `json:"world,omitempty"`

	// JoinCode is the current unexpired join code, nil when absent.
	JoinCode *params.JoinCode `json:"join_code,omitempty"`
}

// Config wires a Controller.
type Config struct {
	// Provider controls the compute instance. Required.
	Provider compute.Provider

	// Resolver picks worlds. Required.
	Resolver Resolver

	// Params is the parameter store. Required.
	Params ParamStore

	// Notifier delivers lifecycle events. Required.
	Notifier Notifier

	// Runner fires the backup-and-stop script. Optional; without it
	// non-forced stops of a running server are rejected.
	Runner Runner

	// Guard gates mutating operations. Optional.
	Guard Guard

	// Retry bounds provider and backup-channel calls. Zero value means
	// DefaultRetryPolicy.
	Retry RetryPolicy

	// Metrics records operation counters. Optional.
	Metrics *telemetry.Metrics

	// Tracer records spans around operations and provider calls. Optional.
	Tracer *telemetry.Tracer

	// StopScript is the command the runner fires for backup-then-stop.
	StopScript string
}

// DefaultStopScript is the command fired on the instance for a normal
// stop. The instance archives the world and shuts itself down.
const DefaultStopScript = "backup-and-stop"

// Controller drives the instance lifecycle from guild-facing requests.
// It is stateless between calls; every decision starts from a fresh
// provider describe, and all cross-invocation state lives in the
// parameter store.
type Controller struct {
	provider   compute.Provider
	resolver   Resolver
	params     ParamStore
	notifier   Notifier
	runner     Runner
	guard      Guard
	retry      RetryPolicy
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	stopScript string

	// now is replaced in tests.
	now func() time.Time
}

// NewController validates the wiring and returns a ready controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("lifecycle controller requires a compute provider")
	}
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("lifecycle controller requires a world resolver")
	}
	if cfg.Params == nil {
		return nil, fmt.Errorf("lifecycle controller requires a parameter store")
	}
	if cfg.Notifier == nil {
		return nil, fmt.Errorf("lifecycle controller requires a notifier")
	}

	retry := cfg.Retry
	if retry.MaxAttempts == 0 {
		retry = DefaultRetryPolicy()
	}

	c := &Controller{
		provider:   cfg.Provider,
		resolver:   cfg.Resolver,
		params:     cfg.Params,
		notifier:   cfg.Notifier,
		runner:     cfg.Runner,
		guard:      cfg.Guard,
		retry:      retry,
		metrics:    cfg.Metrics,
		tracer:     cfg.Tracer,
		stopScript: cfg.StopScript,
		now:        time.Now,
	}
	if c.stopScript == "" {
		c.stopScript = DefaultStopScript
	}
	if c.retry.OnRetry == nil {
		metrics := cfg.Metrics
		c.retry.OnRetry = func(operation string, _ int) {
			metrics.RecordRetryAttempt(operation)
		}
	}

	return c, nil
}

// Start requests an instance start on behalf of a guild. An explicit
// worldRef is checked against the registry before anything else, so an
// unknown or foreign-scoped reference is rejected with zero provider
// calls and zero store writes. Parameter writes happen only on the
// mutating path, after validation and before the provider call; they are
// not rolled back if the provider call later fails.
func (c *Controller) Start(ctx context.Context, guildID, worldRef string) (*Result, error) {
	started := c.now()

	ctx, span := c.tracer.StartLifecycleSpan(ctx, "start", guildID)
	defer span.End()

	var world *worlds.WorldConfig
	var err error
	if worldRef != "" {
		world, err = c.resolveWorld(ctx, "start", guildID, worldRef)
		if err != nil {
			return nil, c.fail(ctx, "start", started, err)
		}
	}

	inst, err := c.describe(ctx)
	if err != nil {
		return nil, c.fail(ctx, "start", started, err)
	}
	c.metrics.RecordStateObservation(inst.State.String())

	switch inst.State {
	case compute.StatePending:
		c.recordOp(ctx, "start", string(OutcomeAlreadyStarting), started)
		return &Result{
			Outcome: OutcomeAlreadyStarting,
			State:   inst.State,
			World:   displayName(world),
			Message: "server is already starting",
		}, nil
	case compute.StateRunning:
		c.recordOp(ctx, "start", string(OutcomeAlreadyRunning), started)
		return &Result{
			Outcome: OutcomeAlreadyRunning,
			State:   inst.State,
			World:   displayName(world),
			Message: "server is already running",
		}, nil
	case compute.StateStopping:
		c.recordOp(ctx, "start", string(OutcomeAlreadyStopping), started)
		return &Result{
			Outcome: OutcomeAlreadyStopping,
			State:   inst.State,
			World:   displayName(world),
			Message: "server is shutting down; try again once it has stopped",
		}, nil
	case compute.StateUnknown:
		return nil, c.fail(ctx, "start", started, NewConfigError(
			"instance is in an unrecognized state", nil).
			WithCode(ErrCodeInstanceUnknown).
			WithOperation("start"))
	}

	// State is stopped: this is the mutating path.
	if world == nil {
		world, err = c.resolveWorld(ctx, "start", guildID, "")
		if err != nil {
			return nil, c.fail(ctx, "start", started, err)
		}
	}

	if world != nil {
		if violations := worlds.Validate(*world); len(violations) > 0 {
			return nil, c.fail(ctx, "start", started, NewValidationError(
				violations[0].Message, nil).
				WithCode(ErrCodeValidation).
				WithResource(world.DisplayName).
				WithOperation("start"))
		}
	}

	if err := c.checkGuard(ctx, guard.OpStart, guildID, world, false); err != nil {
		return nil, c.fail(ctx, "start", started, err)
	}

	if world != nil {
		if err := c.params.SetActiveWorld(ctx, guildID, *world); err != nil {
			return nil, c.fail(ctx, "start", started, NewTransientError(
				"failed to persist the world selection", err).
				WithCode(ErrCodeStoreFailed).
				WithOperation("start"))
		}
	}

	// A join code from the previous boot is meaningless for the new one.
	if err := c.params.ClearJoinCode(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to clear stale join code")
	}

	if err := c.startProvider(ctx); err != nil {
		return nil, c.fail(ctx, "start", started, err)
	}

	message := "server is starting with its current configuration"
	if world != nil {
		message = fmt.Sprintf("server is starting with world %s", world.DisplayName)
	}
	log.Info().
		Str("guild", guildID).
		Str("world", displayName(world)).
		Msg("Instance start requested")

	c.recordOp(ctx, "start", string(OutcomeStarted), started)
	return &Result{
		Outcome: OutcomeStarted,
		State:   compute.StatePending,
		World:   displayName(world),
		Message: message,
	}, nil
}

// Stop requests an instance stop. Without force, a running server first
// archives its world via the backup-and-stop script and reports its own
// completion out-of-band; with force the provider stop is issued
// immediately and the skipped backup is announced.
func (c *Controller) Stop(ctx context.Context, guildID string, force bool) (*Result, error) {
	started := c.now()

	ctx, span := c.tracer.StartLifecycleSpan(ctx, "stop", guildID)
	defer span.End()

	inst, err := c.describe(ctx)
	if err != nil {
		return nil, c.fail(ctx, "stop", started, err)
	}
	c.metrics.RecordStateObservation(inst.State.String())

	switch inst.State {
	case compute.StateStopped:
		c.recordOp(ctx, "stop", string(OutcomeAlreadyStopped), started)
		return &Result{
			Outcome: OutcomeAlreadyStopped,
			State:   inst.State,
			Message: "server is already stopped",
		}, nil
	case compute.StateStopping:
		c.recordOp(ctx, "stop", string(OutcomeAlreadyStopping), started)
		return &Result{
			Outcome: OutcomeAlreadyStopping,
			State:   inst.State,
			Message: "server is already shutting down",
		}, nil
	case compute.StateUnknown:
		return nil, c.fail(ctx, "stop", started, NewConfigError(
			"instance is in an unrecognized state", nil).
			WithCode(ErrCodeInstanceUnknown).
			WithOperation("stop"))
	case compute.StatePending:
		if !force {
			return nil, c.fail(ctx, "stop", started, NewValidationError(
				"server is still starting; wait for it to come up or stop with force", nil).
				WithCode(ErrCodeStillStarting).
				WithOperation("stop"))
		}
	}

	if err := c.checkGuard(ctx, guard.OpStop, guildID, nil, force); err != nil {
		return nil, c.fail(ctx, "stop", started, err)
	}

	if force {
		if err := c.stopProvider(ctx); err != nil {
			return nil, c.fail(ctx, "stop", started, err)
		}

		c.notifier.Dispatch(ctx, notify.StoppedEvent{
			Reason:          "forced",
			BackupCompleted: false,
			BackupError:     "skipped",
		})

		log.Info().Str("guild", guildID).Msg("Forced instance stop requested")
		c.recordOp(ctx, "stop", string(OutcomeStopping), started)
		return &Result{
			Outcome: OutcomeStopping,
			State:   compute.StateStopping,
			Message: "server is stopping; backup skipped",
		}, nil
	}

	if c.runner == nil {
		return nil, c.fail(ctx, "stop", started, NewConfigError(
			"backup channel is not configured", nil).
			WithCode(ErrCodeBackupFailed).
			WithOperation("stop"))
	}

	// The instance archives the world and stops itself; its completion
	// report arrives out-of-band through the ingest endpoint, which
	// emits the StoppedEvent.
	err = c.retry.Do(ctx, "backup-and-stop", func(ctx context.Context) error {
		return c.runner.RunDetached(ctx, c.stopScript)
	})
	if err != nil {
		return nil, c.fail(ctx, "stop", started, NewTransientError(
			"failed to reach the server's backup channel", err).
			WithCode(ErrCodeBackupFailed).
			WithOperation("stop"))
	}

	log.Info().Str("guild", guildID).Msg("Backup-and-stop requested")
	c.recordOp(ctx, "stop", string(OutcomeStopping), started)
	return &Result{
		Outcome: OutcomeStopping,
		State:   compute.StateStopping,
		Message: "server is stopping; backup will run first",
	}, nil
}

// SetDefault validates and persists a guild's default world after the
// guard has approved it.
func (c *Controller) SetDefault(ctx context.Context, guildID, ref string) (*worlds.WorldConfig, error) {
	started := c.now()

	ctx, span := c.tracer.StartLifecycleSpan(ctx, "set-default", guildID)
	defer span.End()

	if guildID == "" {
		return nil, c.fail(ctx, "set-default", started, NewValidationError(
			"guild id is required", nil).
			WithCode(ErrCodeValidation).
			WithOperation("set-default"))
	}

	// Resolve first so the guard sees the world it is approving; the
	// resolver persists nothing on this path.
	world, err := c.resolveWorld(ctx, "set-default", guildID, ref)
	if err != nil {
		return nil, c.fail(ctx, "set-default", started, err)
	}

	if err := c.checkGuard(ctx, guard.OpSetDefault, guildID, world, false); err != nil {
		return nil, c.fail(ctx, "set-default", started, err)
	}

	world, err = c.resolver.SetDefault(ctx, guildID, ref)
	if err != nil {
		return nil, c.fail(ctx, "set-default", started, mapWorldsError("set-default", ref, err))
	}

	c.recordOp(ctx, "set-default", "updated", started)
	return world, nil
}

// Status reports the live snapshot together with the stored world and
// join code. The store reads are best-effort: a missing world or join
// code is normal, and read failures degrade to a partial status rather
// than an error.
func (c *Controller) Status(ctx context.Context) (*Status, error) {
	inst, err := c.describe(ctx)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordStateObservation(inst.State.String())

	status := &Status{Instance: inst}
	if inst.State == compute.StateRunning {
		status.Uptime = inst.Uptime(c.now())
	}

	if world, err := c.params.ActiveWorld(ctx); err == nil {
		status.World = world
	} else if !errors.Is(err, params.ErrNotFound) {
		log.Warn().Err(err).Msg("Failed to read active world")
	}

	if code, err := c.params.CurrentJoinCode(ctx); err == nil {
		status.JoinCode = code
	} else if !errors.Is(err, params.ErrNotFound) {
		log.Warn().Err(err).Msg("Failed to read join code")
	}

	return status, nil
}

// resolveWorld maps resolver outcomes onto the error taxonomy.
func (c *Controller) resolveWorld(ctx context.Context, operation, guildID, ref string) (*worlds.WorldConfig, error) {
	world, err := c.resolver.Resolve(ctx, guildID, ref)
	if err != nil {
		return nil, mapWorldsError(operation, ref, err)
	}
	return world, nil
}

// mapWorldsError classifies world registry and default-store failures.
func mapWorldsError(operation, ref string, err error) *OpError {
	switch {
	case errors.Is(err, worlds.ErrNotFound):
		return NewNotFoundError(
			fmt.Sprintf("no world matches %q; try worlds list", ref), err).
			WithCode(ErrCodeWorldNotFound).
			WithResource(ref).
			WithOperation(operation)
	case errors.Is(err, worlds.ErrScopeViolation):
		return NewScopeViolation(
			"that world belongs to another community", err).
			WithCode(ErrCodeScopeViolation).
			WithResource(ref).
			WithOperation(operation)
	default:
		return NewTransientError("failed to resolve a world", err).
			WithCode(ErrCodeStoreFailed).
			WithOperation(operation)
	}
}

// checkGuard submits the operation to the guard and maps denials onto
// the error taxonomy. Warnings are logged and do not block.
func (c *Controller) checkGuard(ctx context.Context, operation, guildID string, world *worlds.WorldConfig, force bool) error {
	if c.guard == nil {
		return nil
	}

	input := &guard.Input{
		Operation: operation,
		Guild:     guildID,
		Force:     force,
	}
	if world != nil {
		input.World = &guard.WorldInput{
			Name:        world.DisplayName,
			ID:          world.WorldID,
			Scope:       world.OwnerGuildID,
			PasswordLen: utf8.RuneCountInString(world.Password),
		}
	}

	decision, err := c.guard.Check(ctx, input)
	if err != nil {
		return NewConfigError("operation guard evaluation failed", err).
			WithCode(ErrCodeGuardDenied).
			WithOperation(operation)
	}

	for _, w := range decision.Warnings {
		log.Warn().
			Str("policy", w.Policy).
			Str("operation", operation).
			Msg(w.Message)
	}

	if !decision.Allowed {
		message := "operation denied by policy"
		if len(decision.Violations) > 0 {
			message = decision.Violations[0].Message
		}
		return NewValidationError(message, nil).
			WithCode(ErrCodeGuardDenied).
			WithOperation(operation).
			WithDetail("violations", decision.Violations)
	}

	return nil
}

// describe fetches the live snapshot under the retry policy.
func (c *Controller) describe(ctx context.Context) (compute.Instance, error) {
	callStart := c.now()

	ctx, span := c.tracer.StartProviderSpan(ctx, c.provider.Name(), "describe")
	defer span.End()

	var inst compute.Instance
	err := c.retry.Do(ctx, "describe", func(ctx context.Context) error {
		var derr error
		inst, derr = c.provider.Describe(ctx)
		return derr
	})
	if err != nil {
		telemetry.RecordError(span, err)
		c.metrics.RecordProviderError(c.provider.Name(), "describe")
		if compute.IsNotFound(err) {
			return inst, NewConfigError("configured instance does not exist", err).
				WithCode(ErrCodeInstanceMissing)
		}
		return inst, NewTransientError("server state is temporarily unavailable", err).
			WithCode(ErrCodeProviderFailed)
	}

	telemetry.RecordSuccess(span)
	c.metrics.RecordProviderCall(c.provider.Name(), "describe", time.Since(callStart))
	return inst, nil
}

// startProvider issues the provider start under the retry policy.
func (c *Controller) startProvider(ctx context.Context) error {
	callStart := c.now()

	ctx, span := c.tracer.StartProviderSpan(ctx, c.provider.Name(), "start")
	defer span.End()

	err := c.retry.Do(ctx, "start", func(ctx context.Context) error {
		return c.provider.Start(ctx)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		c.metrics.RecordProviderError(c.provider.Name(), "start")
		if compute.IsNotFound(err) {
			return NewConfigError("configured instance does not exist", err).
				WithCode(ErrCodeInstanceMissing).
				WithOperation("start")
		}
		return NewTransientError("the server is temporarily unavailable; try again shortly", err).
			WithCode(ErrCodeProviderFailed).
			WithOperation("start")
	}

	telemetry.RecordSuccess(span)
	c.metrics.RecordProviderCall(c.provider.Name(), "start", time.Since(callStart))
	return nil
}

// stopProvider issues the provider stop under the retry policy.
func (c *Controller) stopProvider(ctx context.Context) error {
	callStart := c.now()

	ctx, span := c.tracer.StartProviderSpan(ctx, c.provider.Name(), "stop")
	defer span.End()

	err := c.retry.Do(ctx, "stop", func(ctx context.Context) error {
		return c.provider.Stop(ctx)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		c.metrics.RecordProviderError(c.provider.Name(), "stop")
		if compute.IsNotFound(err) {
			return NewConfigError("configured instance does not exist", err).
				WithCode(ErrCodeInstanceMissing).
				WithOperation("stop")
		}
		return NewTransientError("the server is temporarily unavailable; try again shortly", err).
			WithCode(ErrCodeProviderFailed).
			WithOperation("stop")
	}

	telemetry.RecordSuccess(span)
	c.metrics.RecordProviderCall(c.provider.Name(), "stop", time.Since(callStart))
	return nil
}

// fail records the failure on the metrics and the current span, then
// passes the error through.
func (c *Controller) fail(ctx context.Context, operation string, started time.Time, err error) error {
	telemetry.RecordError(telemetry.SpanFromContext(ctx), err)

	outcome := "error"
	var opErr *OpError
	if errors.As(err, &opErr) {
		switch opErr.Class {
		case ErrorClassValidation, ErrorClassNotFound, ErrorClassScope:
			outcome = "rejected"
		}
		c.metrics.RecordError(string(opErr.Class), opErr.Code)
	}
	c.metrics.RecordLifecycleOp(operation, outcome, time.Since(started))
	return err
}

// recordOp records a completed operation.
func (c *Controller) recordOp(ctx context.Context, operation, outcome string, started time.Time) {
	telemetry.RecordSuccess(telemetry.SpanFromContext(ctx))
	c.metrics.RecordLifecycleOp(operation, outcome, time.Since(started))
}

// displayName is a nil-safe accessor for result fields.
func displayName(w *worlds.WorldConfig) string {
	if w == nil {
		return ""
	}
	return w.DisplayName
}
