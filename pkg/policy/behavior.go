package policy

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/curator-health/curator/pkg/artifact"
)

// VersionBehavior governs how a dependency's bound version relates to the
// version its consumer declares.
type VersionBehavior string

const (
	// VersionDefault binds the declared version, or the repository's current
	// version when none is declared.
	VersionDefault VersionBehavior = "default"

	// VersionRequireMatching binds only an exactly matching, existing version.
	VersionRequireMatching VersionBehavior = "require-matching"

	// VersionForceUpdate always rebinds to the repository's current version.
	VersionForceUpdate VersionBehavior = "force-update"
)

// ExperimentalBehavior governs whether a non-experimental artifact may
// depend on an experimental one.
type ExperimentalBehavior string

const (
	ExperimentalError  ExperimentalBehavior = "error"
	ExperimentalWarn   ExperimentalBehavior = "warn"
	ExperimentalIgnore ExperimentalBehavior = "ignore"
)

// UnknownStatusBehavior decides how Release treats an artifact whose status
// is unknown.
type UnknownStatusBehavior string

const (
	// UnknownReject refuses to release unknown-status artifacts.
	UnknownReject UnknownStatusBehavior = "reject"

	// UnknownDraft releases unknown-status artifacts as if they were drafts.
	UnknownDraft UnknownStatusBehavior = "draft"
)

// Policy is the version and experimental configuration selected for one
// operation. The zero value is usable and equals Default().
type Policy struct {
	VersionBehavior       VersionBehavior       `json:"version_behavior,omitempty" yaml:"version_behavior,omitempty" validate:"omitempty,oneof=default require-matching force-update"`
	ExperimentalBehavior  ExperimentalBehavior  `json:"experimental_behavior,omitempty" yaml:"experimental_behavior,omitempty" validate:"omitempty,oneof=error warn ignore"`
	UnknownStatus         UnknownStatusBehavior `json:"unknown_status,omitempty" yaml:"unknown_status,omitempty" validate:"omitempty,oneof=reject draft"`
	AllowMultipleVersions bool                  `json:"allow_multiple_versions,omitempty" yaml:"allow_multiple_versions,omitempty"`
}

// Default returns the policy used when nothing is configured.
func Default() Policy {
	return Policy{
		VersionBehavior:      VersionDefault,
		ExperimentalBehavior: ExperimentalIgnore,
		UnknownStatus:        UnknownReject,
	}
}

var validate = validator.New()

// Validate checks that every behavior is one of the known values.
func (p Policy) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid policy: %w", err)
	}
	return nil
}

// Normalize fills empty fields with their defaults.
func (p Policy) Normalize() Policy {
	d := Default()
	if p.VersionBehavior == "" {
		p.VersionBehavior = d.VersionBehavior
	}
	if p.ExperimentalBehavior == "" {
		p.ExperimentalBehavior = d.ExperimentalBehavior
	}
	if p.UnknownStatus == "" {
		p.UnknownStatus = d.UnknownStatus
	}
	return p
}

// Action is the outcome kind of a policy decision.
type Action int

const (
	Accept Action = iota
	Warn
	Reject
)

func (a Action) String() string {
	switch a {
	case Accept:
		return "accept"
	case Warn:
		return "warn"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision is the result of evaluating one dependency edge.
type Decision struct {
	Action Action

	// Bound is the reference the edge resolves to. Zero on Reject.
	Bound artifact.Reference

	// Reason explains a Warn or Reject.
	Reason string

	// Mutated is set when the bound version differs from the declared one.
	Mutated bool

	// Err carries the PolicyViolation for a Reject.
	Err error
}

// Accepted reports whether the edge may be followed.
func (d Decision) Accepted() bool {
	return d.Action != Reject
}

// Target returns the reference to request from the repository for a
// declared dependency. ok is false when the policy rejects the declaration
// before any fetch, in which case the decision explains why.
func (p Policy) Target(declared artifact.Reference) (artifact.Reference, Decision, bool) {
	p = p.Normalize()

	switch p.VersionBehavior {
	case VersionForceUpdate:
		return declared.Unversioned(), Decision{}, true
	case VersionRequireMatching:
		if !declared.HasVersion() {
			reason := fmt.Sprintf("dependency %s declares no version", declared.URL)
			return artifact.Reference{}, reject(declared, "version", reason), false
		}
	}

	return declared, Decision{}, true
}

// Evaluate decides whether the candidate fetched for declared may be bound
// as a dependency of consumer.
func (p Policy) Evaluate(consumer artifact.Node, declared artifact.Reference, candidate artifact.Node) Decision {
	p = p.Normalize()

	bound := candidate.Reference
	if bound.Type == "" {
		bound.Type = declared.Type
	}

	decision := Decision{Action: Accept, Bound: bound}

	switch p.VersionBehavior {
	case VersionRequireMatching:
		if !declared.HasVersion() || declared.Version != candidate.Reference.Version {
			reason := fmt.Sprintf("dependency %s requires version %q but repository has %q",
				declared.URL, declared.Version, candidate.Reference.Version)
			return reject(declared, "version", reason)
		}
	case VersionForceUpdate:
		decision.Mutated = declared.Version != candidate.Reference.Version
	default:
		if declared.HasVersion() && declared.Version != candidate.Reference.Version {
			reason := fmt.Sprintf("dependency %s declared version %q but repository returned %q",
				declared.URL, declared.Version, candidate.Reference.Version)
			return reject(declared, "version", reason)
		}
	}

	if candidate.Experimental && !consumer.Experimental {
		reason := fmt.Sprintf("%s depends on experimental artifact %s",
			consumer.Reference.Canonical(), candidate.Reference.Canonical())

		switch p.ExperimentalBehavior {
		case ExperimentalError:
			return reject(candidate.Reference, "experimental", reason)
		case ExperimentalWarn:
			decision.Action = Warn
			decision.Reason = reason
		}
	}

	return decision
}

func reject(ref artifact.Reference, field, reason string) Decision {
	return Decision{
		Action: Reject,
		Reason: reason,
		Err:    artifact.NewPolicyViolation(reason, field).WithReference(ref),
	}
}
