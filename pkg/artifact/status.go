package artifact

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Status represents the lifecycle status of an artifact.
type Status string

const (
	// StatusDraft indicates the artifact is being authored and may change.
	StatusDraft Status = "draft"

	// StatusActive indicates the artifact has been released.
	StatusActive Status = "active"

	// StatusRetired indicates the artifact is withdrawn and must not be released again.
	StatusRetired Status = "retired"

	// StatusUnknown indicates the status is absent or not recognized.
	StatusUnknown Status = "unknown"
)

// ParseStatus converts a raw status value. Anything unrecognized maps to StatusUnknown.
func ParseStatus(s string) Status {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusDraft:
		return StatusDraft
	case StatusActive:
		return StatusActive
	case StatusRetired:
		return StatusRetired
	default:
		return StatusUnknown
	}
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusDraft, StatusActive, StatusRetired, StatusUnknown:
		return nil
	default:
		return fmt.Errorf("invalid artifact status: %s", s)
	}
}

// IsReleased returns true for active artifacts.
func (s Status) IsReleased() bool {
	return s == StatusActive
}

// UnmarshalJSON normalizes unrecognized values to StatusUnknown.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseStatus(raw)
	return nil
}

// RelationshipKind is the kind of a relationship edge between artifacts.
type RelationshipKind string

const (
	// RelationshipDependsOn declares a dependency required to use the artifact.
	RelationshipDependsOn RelationshipKind = "depends-on"

	// RelationshipComposedOf declares a component the artifact is assembled from.
	RelationshipComposedOf RelationshipKind = "composed-of"

	// RelationshipDerivedFrom declares the artifact the source was derived from.
	RelationshipDerivedFrom RelationshipKind = "derived-from"

	// RelationshipSuccessor points to the artifact that supersedes the source.
	RelationshipSuccessor RelationshipKind = "successor"

	// RelationshipPredecessor points to the artifact the source supersedes.
	RelationshipPredecessor RelationshipKind = "predecessor"
)

// Validate checks if the relationship kind is valid.
func (k RelationshipKind) Validate() error {
	switch k {
	case RelationshipDependsOn, RelationshipComposedOf, RelationshipDerivedFrom,
		RelationshipSuccessor, RelationshipPredecessor:
		return nil
	default:
		return fmt.Errorf("invalid relationship kind: %s", k)
	}
}

// IsDependency returns true for kinds that contribute to an artifact's dependency closure.
func (k RelationshipKind) IsDependency() bool {
	return k == RelationshipDependsOn || k == RelationshipComposedOf
}
