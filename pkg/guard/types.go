package guard

import (
	"time"
)

// Severity classifies how a violation affects the guarded operation.
type Severity string

const (
	// SeverityWarning marks findings that are reported but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError marks findings that block the operation.
	SeverityError Severity = "error"
)

// Operations the controller submits for evaluation.
const (
	OpStart      = "start"
	OpStop       = "stop"
	OpSetDefault = "set-default"
)

// Policy is a single Rego policy known to the engine.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to violations that do not set their own.
	Severity Severity `json:"severity"`

	// Builtin marks policies compiled into the binary. Builtin policies
	// survive operator policy reloads.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from, empty for builtins.
	Source string `json:"source,omitempty"`
}

// Input is the document policies evaluate. Field names follow the Rego
// convention, so a policy reads input.world.password_len. Scalar fields
// are always present so policies can compare against zero values instead
// of testing for undefined.
type Input struct {
	// Operation is the lifecycle operation being attempted.
	Operation string `json:"operation"`

	// Guild is the community attempting the operation.
	Guild string `json:"guild"`

	// Force is set when the caller requested a forced stop.
	Force bool `json:"force"`

	// World describes the world the operation targets, when there is one.
	World *WorldInput `json:"world,omitempty"`
}

// WorldInput carries the policy-relevant slice of a world configuration.
// The password itself never enters the policy input, only its length.
type WorldInput struct {
	Name        string `json:"name"`
	ID          string `json:"id"`
	Scope       string `json:"scope"`
	PasswordLen int    `json:"password_len"`
}

// Violation is a single policy finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Message is a human-readable description of the finding.
	Message string `json:"message"`

	// Severity is the finding's severity level.
	Severity Severity `json:"severity"`
}

// Decision is the outcome of evaluating all policies against one input.
type Decision struct {
	// Allowed reports whether the operation may proceed.
	Allowed bool `json:"allowed"`

	// Violations lists blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// Policies lists the names of the policies that were evaluated.
	Policies []string `json:"policies"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
