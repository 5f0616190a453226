package artifact

import (
	"time"
)

// Relationship is an outgoing, typed edge from one artifact to another.
type Relationship struct {
	// Kind is the relationship kind.
	Kind RelationshipKind `json:"kind" yaml:"kind"`

	// Target is the referenced artifact as declared by the source.
	Target Reference `json:"target" yaml:"target"`

	// Owned marks a component that is versioned together with its owner.
	Owned bool `json:"owned,omitempty" yaml:"owned,omitempty"`
}

// Period is an effective period with optional bounds.
type Period struct {
	// Start is the inclusive start of the period.
	Start *time.Time `json:"start,omitempty" yaml:"start,omitempty"`

	// End is the inclusive end of the period.
	End *time.Time `json:"end,omitempty" yaml:"end,omitempty"`
}

// IsSet reports whether the period has a start or an end.
func (p *Period) IsSet() bool {
	return p != nil && (p.Start != nil || p.End != nil)
}

// Approval is an approval record attached to an artifact.
type Approval struct {
	// ID is the unique identifier of the approval.
	ID string `json:"id" yaml:"id"`

	// Date is when the approval was given.
	Date time.Time `json:"date" yaml:"date"`

	// Type is the assessment type (comment, approval, review).
	Type string `json:"type" yaml:"type"`

	// Summary is an optional free-text summary.
	Summary string `json:"summary,omitempty" yaml:"summary,omitempty"`

	// Author identifies who approved.
	Author string `json:"author,omitempty" yaml:"author,omitempty"`

	// Target is the canonical the approval applies to, when given explicitly.
	Target string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Node is a resolved artifact as returned by a repository.
type Node struct {
	// ID is the repository-assigned logical identifier. Empty for nodes not yet written.
	ID string `json:"id,omitempty" yaml:"id,omitempty"`

	// Reference is the canonical identity of the artifact.
	Reference Reference `json:"reference" yaml:"reference"`

	// Status is the lifecycle status.
	Status Status `json:"status" yaml:"status"`

	// Experimental marks artifacts that are not production ready.
	Experimental bool `json:"experimental" yaml:"experimental"`

	// Relationships are the outgoing edges in declaration order.
	Relationships []Relationship `json:"relationships,omitempty" yaml:"relationships,omitempty"`

	// Title is the human-readable title.
	Title string `json:"title,omitempty" yaml:"title,omitempty"`

	// Description is the narrative description.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// Date is when the artifact content last changed materially.
	Date *time.Time `json:"date,omitempty" yaml:"date,omitempty"`

	// ApprovalDate is when the artifact was last approved.
	ApprovalDate *time.Time `json:"approval_date,omitempty" yaml:"approval_date,omitempty"`

	// EffectivePeriod is when the artifact content is expected to be used.
	EffectivePeriod *Period `json:"effective_period,omitempty" yaml:"effective_period,omitempty"`

	// ReleaseLabel is a human-friendly label assigned at release.
	ReleaseLabel string `json:"release_label,omitempty" yaml:"release_label,omitempty"`

	// Logic is embedded executable logic, evaluated during validation checks.
	Logic string `json:"logic,omitempty" yaml:"logic,omitempty"`

	// Approvals are the approval records attached to this artifact.
	Approvals []Approval `json:"approvals,omitempty" yaml:"approvals,omitempty"`

	// Source is the name of the repository handle that returned the node.
	Source string `json:"source,omitempty" yaml:"source,omitempty"`

	// Revision is the store-assigned optimistic-concurrency token.
	Revision int64 `json:"revision,omitempty" yaml:"revision,omitempty"`
}

// Key returns the identity key of the node.
func (n Node) Key() string {
	return n.Reference.Key()
}

// HasLogic reports whether the node embeds executable logic.
func (n Node) HasLogic() bool {
	return n.Logic != ""
}

// Clone returns a deep copy suitable for use as a pending-write copy.
func (n Node) Clone() Node {
	out := n
	if n.Relationships != nil {
		out.Relationships = append([]Relationship(nil), n.Relationships...)
	}
	if n.Approvals != nil {
		out.Approvals = append([]Approval(nil), n.Approvals...)
	}
	out.Date = cloneTime(n.Date)
	out.ApprovalDate = cloneTime(n.ApprovalDate)
	if n.EffectivePeriod != nil {
		out.EffectivePeriod = &Period{
			Start: cloneTime(n.EffectivePeriod.Start),
			End:   cloneTime(n.EffectivePeriod.End),
		}
	}
	return out
}

// Dependencies returns the relationships that contribute to the dependency closure.
func (n Node) Dependencies() []Relationship {
	var deps []Relationship
	for _, rel := range n.Relationships {
		if rel.Kind.IsDependency() {
			deps = append(deps, rel)
		}
	}
	return deps
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
