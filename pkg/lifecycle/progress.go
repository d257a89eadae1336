package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
)

const (
	// DefaultWaitInterval is the poll interval while waiting for a
	// transition. The fixed delay keeps describe volume well inside
	// provider request quotas even with several waiters.
	DefaultWaitInterval = 5 * time.Second

	// DefaultWaitTimeout bounds a wait. A cold start typically settles
	// in under three minutes.
	DefaultWaitTimeout = 5 * time.Minute
)

// ProgressFunc receives each snapshot observed while waiting.
type ProgressFunc func(inst compute.Instance)

// WaitConfig bounds a Wait call. The zero value uses the defaults.
type WaitConfig struct {
	// Interval is the delay between describe polls.
	Interval time.Duration

	// Timeout caps the total wait.
	Timeout time.Duration

	// OnPoll, when set, is called with every observed snapshot.
	OnPoll ProgressFunc
}

// Wait polls the provider until the instance reaches target, settles
// somewhere else, the timeout elapses, or ctx is canceled. It returns
// the last observed snapshot either way.
//
// Describe failures during the wait are logged and polled through; the
// timeout is the backstop. Provider describes can lag the control
// plane, so a settled state other than the target only counts as the
// transition's outcome once the transition itself has been observed.
func (c *Controller) Wait(ctx context.Context, target compute.InstanceState, cfg WaitConfig) (compute.Instance, error) {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultWaitInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultWaitTimeout
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		last          compute.Instance
		sawTransition bool
	)
	for {
		inst, err := c.provider.Describe(waitCtx)
		switch {
		case err == nil:
			last = inst
			if cfg.OnPoll != nil {
				cfg.OnPoll(inst)
			}
			log.Debug().
				Str("state", inst.State.String()).
				Str("target", target.String()).
				Msg("Waiting for instance transition")

			if inst.State == target {
				return inst, nil
			}
			if inst.State.Transitional() {
				sawTransition = true
			} else if inst.State != compute.StateUnknown && sawTransition {
				return inst, NewTransientError(
					fmt.Sprintf("server settled in state %s while waiting for %s", inst.State, target), nil).
					WithCode(ErrCodeProviderFailed)
			}
		case waitCtx.Err() != nil:
			// Fall through to the select below for the final verdict.
		case compute.IsNotFound(err):
			return last, NewConfigError("configured instance does not exist", err).
				WithCode(ErrCodeInstanceMissing)
		default:
			log.Warn().Err(err).Msg("Describe failed while waiting; will poll again")
		}

		select {
		case <-ticker.C:
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return last, ctx.Err()
			}
			return last, NewTransientError(
				fmt.Sprintf("timed out waiting for the server to become %s", target), waitCtx.Err()).
				WithCode(ErrCodeProviderFailed)
		}
	}
}
