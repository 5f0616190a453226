package policy

import (
	"time"

	"github.com/curator-health/curator/pkg/artifact"
)

// Severity represents the severity level of a rule violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are reported but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the operation.
	SeverityError Severity = "error"

	// SeverityCritical blocks the operation.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity stops the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Rule is a Rego rule evaluated against release plans and package bundles.
// The module must define a "deny" set; each member is a string or an object
// with "message", "severity" and "artifact" keys.
type Rule struct {
	// Name is the unique name of the rule.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego module.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the rule is active.
	Enabled bool `json:"enabled"`

	// Operations limits the rule to these operations. Empty means all.
	Operations []string `json:"operations,omitempty"`

	// Tags are labels for organizing rules.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional rule metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// appliesTo reports whether the rule runs for operation.
func (r *Rule) appliesTo(operation string) bool {
	if len(r.Operations) == 0 {
		return true
	}
	for _, op := range r.Operations {
		if op == operation {
			return true
		}
	}
	return false
}

// Violation is a single rule finding.
type Violation struct {
	// Rule is the name of the rule that produced the finding.
	Rule string `json:"rule"`

	// Artifact is the canonical reference the finding applies to, if any.
	Artifact string `json:"artifact,omitempty"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Severity is the finding severity.
	Severity Severity `json:"severity"`
}

// RuleInput is the document rules are evaluated against, available to Rego
// as input.
type RuleInput struct {
	// Operation is "release" or "package".
	Operation string `json:"operation"`

	// Root is the artifact the operation started from.
	Root artifact.Reference `json:"root"`

	// Artifacts are the artifacts as they will be written (release) or
	// bundled (package), in manifest order.
	Artifacts []artifact.Node `json:"artifacts"`

	// Timestamp is the evaluation time.
	Timestamp time.Time `json:"timestamp"`

	// Metadata carries caller-supplied context.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// RuleResult is the outcome of evaluating every enabled rule.
type RuleResult struct {
	// Allowed is false when any blocking violation was found.
	Allowed bool `json:"allowed"`

	// Violations are the blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are the non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists rules that failed to evaluate. They do not block.
	Errors []string `json:"errors,omitempty"`

	// EvaluatedRules lists the names of rules that ran.
	EvaluatedRules []string `json:"evaluated_rules"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// RuleBundle is a named, versioned collection of rules loaded from one file.
type RuleBundle struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Description string    `json:"description"`
	Rules       []Rule    `json:"rules"`
	CreatedAt   time.Time `json:"created_at"`
}
