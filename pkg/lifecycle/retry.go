package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
)

// RetryPolicy bounds how provider and backup-channel calls are retried.
// Attempts run sequentially, each under its own timeout, with a linear
// backoff of attempt × Backoff between them. Worst-case latency is
// therefore MaxAttempts × (Timeout + Backoff × MaxAttempts).
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// Backoff is the base delay; the wait before attempt n+1 is n × Backoff.
	Backoff time.Duration

	// Timeout caps each individual attempt.
	Timeout time.Duration

	// Retryable overrides the default classification of which errors are
	// worth another attempt.
	Retryable func(error) bool

	// OnRetry is called before each backoff sleep, mainly for metrics.
	OnRetry func(operation string, attempt int)

	// Sleep is replaced in tests to make backoff observable.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     time.Second,
		Timeout:     10 * time.Second,
	}
}

// temporary matches errors that know whether retrying may help, such as
// the backup channel's transport errors.
type temporary interface {
	Temporary() bool
}

// defaultRetryable treats classified transient errors, temporary provider
// and transport failures, and per-attempt timeouts as retryable.
func defaultRetryable(err error) bool {
	if IsRetryable(err) || compute.IsTemporary(err) {
		return true
	}
	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is exhausted. The last error is returned unwrapped so
// callers can classify it.
func (p RetryPolicy) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoff := p.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		err = fn(attemptCtx)
		cancel()

		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if attempt >= maxAttempts {
			break
		}

		if p.OnRetry != nil {
			p.OnRetry(operation, attempt)
		}

		delay := time.Duration(attempt) * backoff
		if p.Sleep != nil {
			if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
				return sleepErr
			}
			continue
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return err
}
