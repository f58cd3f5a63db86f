package policy

import (
	"time"

	"github.com/arrayforge/arrayforge/pkg/workspace"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that should be reviewed but do not
	// block a fetch.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block a fetch.
	SeverityError Severity = "error"
)

// Policy is one admission rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Builtin marks policies that ship with the toolchain.
	Builtin bool `json:"builtin"`
}

// Violation is a single admission rule violation.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Archive is the pin name the violation applies to.
	Archive string `json:"archive,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating the admission rules for one pin.
type Result struct {
	// Allowed indicates whether the pin may be fetched.
	Allowed bool `json:"allowed"`

	// Violations lists blocking violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Input is the document admission rules evaluate against.
type Input struct {
	// Pin is the archive pin under evaluation.
	Pin *workspace.Pin `json:"pin"`

	// AllowedHosts is the configured host allowlist. Empty means any host.
	AllowedHosts []string `json:"allowed_hosts"`

	// Operation names what is being admitted, currently always "fetch".
	Operation string `json:"operation"`
}
