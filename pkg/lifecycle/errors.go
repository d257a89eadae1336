// Package lifecycle implements the controller that turns start, stop and
// status requests into compute provider actions, parameter store writes
// and notifications, driven by the live instance state.
package lifecycle

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and
// user-facing reporting.
type ErrorClass string

const (
	// ErrorClassValidation indicates the request itself was rejected.
	// Examples: a short password, a stop while the instance is starting.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassNotFound indicates a referenced world, backup or binding
	// does not exist.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassScope indicates the referenced world belongs to another
	// guild.
	ErrorClassScope ErrorClass = "scope"

	// ErrorClassTransient indicates a temporary infrastructure failure
	// that may succeed on retry. Examples: throttling, 5xx, timeouts.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConfig indicates broken deployment configuration.
	// Examples: missing instance, missing credentials.
	ErrorClassConfig ErrorClass = "config"
)

// OpError represents a classified lifecycle error with context.
type OpError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the world, instance or record the error concerns.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *OpError) Error() string {
	if e.Resource != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (resource=%s, operation=%s): %s",
			e.Class, e.Message, e.Resource, e.Operation, e.unwrapMessage())
	}
	if e.Resource != "" {
		return fmt.Sprintf("[%s] %s (resource=%s): %s",
			e.Class, e.Message, e.Resource, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *OpError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *OpError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *OpError) Is(target error) bool {
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *OpError {
	return &OpError{
		Class:   ErrorClassValidation,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not-found error.
func NewNotFoundError(message string, err error) *OpError {
	return &OpError{
		Class:   ErrorClassNotFound,
		Message: message,
		Err:     err,
	}
}

// NewScopeViolation creates a new scope violation error.
func NewScopeViolation(message string, err error) *OpError {
	return &OpError{
		Class:   ErrorClassScope,
		Message: message,
		Err:     err,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *OpError {
	return &OpError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConfigError creates a new configuration error.
func NewConfigError(message string, err error) *OpError {
	return &OpError{
		Class:   ErrorClassConfig,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *OpError) WithResource(resource string) *OpError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *OpError) WithOperation(operation string) *OpError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *OpError) WithCode(code string) *OpError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *OpError) WithDetail(key string, value interface{}) *OpError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsValidation returns true if the error is classified as validation.
func IsValidation(err error) bool {
	var e *OpError
	if errors.As(err, &e) {
		return e.Class == ErrorClassValidation
	}
	return false
}

// IsNotFound returns true if the error is classified as not-found.
func IsNotFound(err error) bool {
	var e *OpError
	if errors.As(err, &e) {
		return e.Class == ErrorClassNotFound
	}
	return false
}

// IsScopeViolation returns true if the error is classified as a scope
// violation.
func IsScopeViolation(err error) bool {
	var e *OpError
	if errors.As(err, &e) {
		return e.Class == ErrorClassScope
	}
	return false
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *OpError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConfig returns true if the error is classified as configuration.
func IsConfig(err error) bool {
	var e *OpError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConfig
	}
	return false
}

// IsRetryable returns true if the error can be retried. Only transient
// errors are retryable; every other class reflects a decision that will
// not change on retry.
func IsRetryable(err error) bool {
	return IsTransient(err)
}

// Common error codes.
const (
	ErrCodeWorldNotFound   = "WORLD_NOT_FOUND"
	ErrCodeScopeViolation  = "SCOPE_VIOLATION"
	ErrCodeValidation      = "VALIDATION_FAILED"
	ErrCodeGuardDenied     = "GUARD_DENIED"
	ErrCodeStillStarting   = "STILL_STARTING"
	ErrCodeProviderFailed  = "PROVIDER_UNAVAILABLE"
	ErrCodeStoreFailed     = "STORE_FAILED"
	ErrCodeInstanceMissing = "INSTANCE_MISSING"
	ErrCodeInstanceUnknown = "INSTANCE_STATE_UNKNOWN"
	ErrCodeBackupFailed    = "BACKUP_CHANNEL_FAILED"
)
