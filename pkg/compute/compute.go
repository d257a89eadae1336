// Package compute defines the control adapter for the remote compute
// instance hosting the game server. It exposes a thin, typed interface
// over the cloud provider's instance API: observe the live state, request
// an asynchronous start, request an asynchronous stop. State is never
// cached; every decision in the lifecycle layer begins with a fresh
// Describe.
package compute

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// InstanceState is the lifecycle state of the compute instance as reported
// by the provider.
type InstanceState string

const (
	// StateStopped means the instance exists but is not running.
	StateStopped InstanceState = "stopped"

	// StatePending means the instance is starting but not yet running.
	StatePending InstanceState = "pending"

	// StateRunning means the instance is running.
	StateRunning InstanceState = "running"

	// StateStopping means the instance is shutting down.
	StateStopping InstanceState = "stopping"

	// StateUnknown covers provider states that have no lifecycle
	// equivalent, including terminated instances.
	StateUnknown InstanceState = "unknown"
)

// String returns the state as a string.
func (s InstanceState) String() string {
	return string(s)
}

// Transitional reports whether the state is an in-flight transition.
func (s InstanceState) Transitional() bool {
	return s == StatePending || s == StateStopping
}

// Instance is a point-in-time snapshot of the compute instance.
type Instance struct {
	// ID is the provider-assigned instance identifier.
	ID string

	// State is the observed lifecycle state.
	State InstanceState

	// PublicAddress is the instance's public IP or hostname. Empty while
	// the instance is stopped.
	PublicAddress string

	// LaunchedAt is when the current boot began. Zero while the instance
	// is stopped.
	LaunchedAt time.Time
}

// Uptime returns how long the instance has been up as of now, or zero if
// no launch time is known.
func (i Instance) Uptime(now time.Time) time.Duration {
	if i.LaunchedAt.IsZero() {
		return 0
	}
	return now.Sub(i.LaunchedAt)
}

// Provider is the contract every compute backend implements. All calls
// take a context for cancellation and per-attempt timeouts. Start and
// Stop return once the provider has accepted the request; they never wait
// for the transition to complete.
type Provider interface {
	// Name identifies the backend (e.g. "ec2") for logs and metrics.
	Name() string

	// Describe returns the live instance snapshot.
	Describe(ctx context.Context) (Instance, error)

	// Start requests an asynchronous instance start.
	Start(ctx context.Context) error

	// Stop requests an asynchronous instance stop.
	Stop(ctx context.Context) error
}

// ErrInstanceNotFound is returned when the configured instance does not
// exist at the provider. This points at broken deployment configuration,
// not a transient fault.
var ErrInstanceNotFound = errors.New("compute instance not found")

// ProviderError wraps a provider failure with the operation that produced
// it and whether retrying may help.
type ProviderError struct {
	// Provider is the backend name.
	Provider string

	// Op is the operation that failed (describe, start, stop).
	Op string

	// Err is the underlying error.
	Err error

	// Temporary marks throttling, server faults, and network timeouts.
	Temporary bool
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsTemporary reports whether err is a provider error worth retrying.
func IsTemporary(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Temporary
	}
	return false
}

// IsNotFound reports whether err indicates a missing instance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrInstanceNotFound)
}
