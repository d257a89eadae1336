package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/Dardin-dale/huginbot-sub000/pkg/params"
	"github.com/Dardin-dale/huginbot-sub000/pkg/telemetry"
)

// ParamSource is the slice of the parameter store the dispatcher needs:
// the active world to find the owning guild, the guild's webhook
// binding, and the stop-notice watermark for duplicate suppression.
type ParamSource interface {
	ActiveWorld(ctx context.Context) (*params.ActiveWorld, error)
	Webhook(ctx context.Context, guildID string) (*params.WebhookBinding, error)
	MarkStopNotice(ctx context.Context, guildID string, at time.Time) error
	LastStopNotice(ctx context.Context, guildID string) (time.Time, error)
}

// Poster sends one payload to an endpoint.
type Poster interface {
	Post(ctx context.Context, url string, payload any) error
}

// Config tunes delivery behaviour.
type Config struct {
	// MaxAttempts bounds deliveries of the rich payload.
	MaxAttempts int

	// FallbackMaxAttempts bounds deliveries of the plain-text payload
	// tried after the rich budget is exhausted.
	FallbackMaxAttempts int

	// Backoff is multiplied by the attempt number between retries.
	Backoff time.Duration

	// Timeout caps each individual delivery attempt.
	Timeout time.Duration

	// SuppressionWindow is how long after a detailed stop notice the
	// low-information fallback signal is treated as a duplicate.
	SuppressionWindow time.Duration

	// Tracer records a span per delivery. Optional.
	Tracer *telemetry.Tracer
}

// DefaultConfig returns the delivery budgets used in production.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:         3,
		FallbackMaxAttempts: 2,
		Backoff:             time.Second,
		Timeout:             30 * time.Second,
		SuppressionWindow:   2 * time.Minute,
	}
}

// Dispatcher resolves the endpoint for each event at dispatch time and
// delivers it under the configured budgets.
type Dispatcher struct {
	params  ParamSource
	poster  Poster
	cfg     Config
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(source ParamSource, poster Poster, cfg Config, metrics *telemetry.Metrics) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultConfig().MaxAttempts
	}
	if cfg.FallbackMaxAttempts <= 0 {
		cfg.FallbackMaxAttempts = DefaultConfig().FallbackMaxAttempts
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultConfig().Backoff
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.SuppressionWindow <= 0 {
		cfg.SuppressionWindow = DefaultConfig().SuppressionWindow
	}

	return &Dispatcher{
		params:  source,
		poster:  poster,
		cfg:     cfg,
		metrics: metrics,
		tracer:  cfg.Tracer,
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// deliveryOutcome summarizes one budgeted delivery loop.
type deliveryOutcome int

const (
	outcomeDelivered deliveryOutcome = iota
	outcomeRejected
	outcomeExhausted
	outcomeCanceled
)

// Dispatch delivers an event to the endpoint currently bound to the
// active world's guild. It never returns an error: delivery failures
// are logged and counted, and must not affect the lifecycle action that
// produced the event.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	deliveryID := uuid.New().String()
	eventType := string(event.Type())

	ctx, span := d.tracer.StartDeliverySpan(ctx, eventType, deliveryID)
	defer span.End()

	url, guildID, ok := d.resolveTarget(ctx, deliveryID, eventType)
	if !ok {
		telemetry.SetAttributes(span, attribute.String("delivery.result", "dropped"))
		d.metrics.RecordNotifyDelivery(eventType, "dropped")
		return
	}

	rich := message{Embeds: []embed{event.render(d.now())}}
	outcome := d.attemptDelivery(ctx, url, rich, d.cfg.MaxAttempts, eventType, deliveryID)

	var result string
	switch outcome {
	case outcomeDelivered:
		result = "delivered"
	case outcomeRejected:
		result = "rejected"
	case outcomeCanceled:
		result = "canceled"
	case outcomeExhausted:
		// The rich payload could not get through; try the minimal
		// plain-text rendering on its own smaller budget.
		fallback := message{Content: event.fallbackText()}
		switch d.attemptDelivery(ctx, url, fallback, d.cfg.FallbackMaxAttempts, eventType, deliveryID) {
		case outcomeDelivered:
			result = "delivered_fallback"
		case outcomeRejected:
			result = "rejected"
		case outcomeCanceled:
			result = "canceled"
		default:
			result = "failed"
		}
	}

	telemetry.SetAttributes(span, attribute.String("delivery.result", result))
	d.metrics.RecordNotifyDelivery(eventType, result)

	switch result {
	case "delivered", "delivered_fallback":
		log.Info().
			Str("delivery_id", deliveryID).
			Str("event", eventType).
			Str("guild_id", guildID).
			Str("result", result).
			Msg("Notification delivered")
		if isStopNotice(event) {
			d.markStopNotice(ctx, guildID, deliveryID)
		}
	case "failed":
		log.Error().
			Str("delivery_id", deliveryID).
			Str("event", eventType).
			Str("guild_id", guildID).
			Msg("Notification abandoned after all delivery budgets")
	}
}

// DispatchFallbackStop handles the low-information "instance stopped"
// signal from infrastructure state-change detection. The signal is
// redundant when a detailed stop notice already went out moments
// earlier, so deliveries within the suppression window of the persisted
// watermark are dropped.
func (d *Dispatcher) DispatchFallbackStop(ctx context.Context, reason string) {
	if guildID := d.activeGuild(ctx); guildID != "" {
		last, err := d.params.LastStopNotice(ctx, guildID)
		switch {
		case err == nil:
			if age := d.now().Sub(last); age < d.cfg.SuppressionWindow {
				log.Info().
					Str("guild_id", guildID).
					Dur("age", age).
					Msg("Suppressing duplicate stop notification")
				d.metrics.RecordNotifySuppressed()
				return
			}
		case errors.Is(err, params.ErrNotFound):
			// No earlier notice; deliver.
		default:
			log.Warn().
				Err(err).
				Str("guild_id", guildID).
				Msg("Failed to read stop notice watermark, dispatching anyway")
		}
	}

	if reason == "" {
		reason = "instance state change"
	}

	d.Dispatch(ctx, StoppedEvent{Reason: reason, BackupCompleted: false})
}

// TestDelivery posts a short message to the endpoint bound to guildID so
// operators can verify a fresh binding end to end.
func (d *Dispatcher) TestDelivery(ctx context.Context, guildID string) error {
	binding, err := d.params.Webhook(ctx, guildID)
	if err != nil {
		return fmt.Errorf("no webhook bound for guild %s: %w", guildID, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	return d.poster.Post(attemptCtx, binding.URL, message{Content: "HuginBot webhook test: the binding works."})
}

// attemptDelivery posts payload under a bounded sequential retry loop
// with linear backoff.
func (d *Dispatcher) attemptDelivery(ctx context.Context, url string, payload message, budget int, eventType, deliveryID string) deliveryOutcome {
	for attempt := 1; attempt <= budget; attempt++ {
		d.metrics.RecordNotifyAttempt(eventType)

		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
		err := d.poster.Post(attemptCtx, url, payload)
		cancel()

		if err == nil {
			return outcomeDelivered
		}

		var dErr *DeliveryError
		if errors.As(err, &dErr) && !dErr.Retryable() {
			log.Warn().
				Str("delivery_id", deliveryID).
				Str("event", eventType).
				Int("status", dErr.StatusCode).
				Msg("Notification rejected by endpoint")
			return outcomeRejected
		}

		log.Warn().
			Err(err).
			Str("delivery_id", deliveryID).
			Str("event", eventType).
			Int("attempt", attempt).
			Int("budget", budget).
			Msg("Notification delivery attempt failed")

		if attempt >= budget {
			return outcomeExhausted
		}

		d.metrics.RecordRetryAttempt("notify")

		if err := d.sleep(ctx, time.Duration(attempt)*d.cfg.Backoff); err != nil {
			return outcomeCanceled
		}
	}

	return outcomeExhausted
}

// resolveTarget resolves the endpoint at dispatch time rather than
// trigger time: the active world, and with it the owning guild, may have
// changed while the event waited.
func (d *Dispatcher) resolveTarget(ctx context.Context, deliveryID, eventType string) (url, guildID string, ok bool) {
	active, err := d.params.ActiveWorld(ctx)
	if err != nil {
		d.logDrop(deliveryID, eventType, "no active world recorded", err)
		return "", "", false
	}
	if active.GuildID == "" {
		d.logDrop(deliveryID, eventType, "active world has no owning guild", nil)
		return "", "", false
	}

	binding, err := d.params.Webhook(ctx, active.GuildID)
	if err != nil {
		d.logDrop(deliveryID, eventType, "no webhook bound for guild", err)
		return "", "", false
	}

	return binding.URL, active.GuildID, true
}

func (d *Dispatcher) logDrop(deliveryID, eventType, reason string, err error) {
	evt := log.Info()
	if err != nil && !errors.Is(err, params.ErrNotFound) {
		evt = log.Warn().Err(err)
	}
	evt.
		Str("delivery_id", deliveryID).
		Str("event", eventType).
		Msg("Dropping notification: " + reason)
}

func (d *Dispatcher) activeGuild(ctx context.Context) string {
	active, err := d.params.ActiveWorld(ctx)
	if err != nil {
		return ""
	}
	return active.GuildID
}

func (d *Dispatcher) markStopNotice(ctx context.Context, guildID, deliveryID string) {
	if err := d.params.MarkStopNotice(ctx, guildID, d.now()); err != nil {
		log.Warn().
			Err(err).
			Str("delivery_id", deliveryID).
			Str("guild_id", guildID).
			Msg("Failed to record stop notice watermark")
	}
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
