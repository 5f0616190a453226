package engine

import (
	"time"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
)

// Lifecycle operations.
const (
	OperationDraft   = "draft"
	OperationRelease = "release"
	OperationApprove = "approve"
	OperationPackage = "package"
)

// Edge is a relationship the resolver examined.
type Edge struct {
	// From is the artifact declaring the relationship.
	From artifact.Reference `json:"from"`

	// Relationship is the relationship as declared.
	Relationship artifact.Relationship `json:"relationship"`

	// Bound is the reference the relationship resolved to. Zero when the
	// edge was not followed or could not be resolved.
	Bound artifact.Reference `json:"bound,omitempty"`

	// Followed is false for lineage edges recorded but not traversed.
	Followed bool `json:"followed"`

	// Mutated is set when Bound differs from the declared version.
	Mutated bool `json:"mutated,omitempty"`
}

// Unresolved is a dependency that could not be bound.
type Unresolved struct {
	From     artifact.Reference `json:"from"`
	Declared artifact.Reference `json:"declared"`
	Reason   string             `json:"reason"`
	Kind     string             `json:"kind,omitempty"`
	Err      error              `json:"-" yaml:"-"`
}

// Warning is a non-blocking finding attached to an operation result.
type Warning struct {
	Artifact artifact.Reference `json:"artifact"`
	Field    string             `json:"field,omitempty"`
	Rule     string             `json:"rule,omitempty"`
	Message  string             `json:"message"`
}

// ResolveOptions configures one traversal.
type ResolveOptions struct {
	// Policy binds dependency versions.
	Policy policy.Policy

	// Strict aborts on the first unresolved dependency.
	Strict bool

	// Follow lists the relationship kinds traversed. Defaults to
	// depends-on and composed-of.
	Follow []artifact.RelationshipKind
}

func (o ResolveOptions) follows(kind artifact.RelationshipKind) bool {
	if len(o.Follow) == 0 {
		return kind.IsDependency()
	}
	for _, k := range o.Follow {
		if k == kind {
			return true
		}
	}
	return false
}

// PlannedWrite is one staged write of a lifecycle plan.
type PlannedWrite struct {
	// Before is the artifact as read. Zero for artifacts created by the plan.
	Before artifact.Node `json:"before"`

	// After is the artifact as it will be written.
	After artifact.Node `json:"after"`

	// Create is set when After is a new artifact rather than an update.
	Create bool `json:"create"`
}

// Target returns the reference After will be committed as.
func (w PlannedWrite) Target() artifact.Reference {
	return w.After.Reference
}

// Plan is the ordered set of writes an operation will commit. Writes are
// ordered so that every artifact follows the artifacts it depends on.
type Plan struct {
	Operation string             `json:"operation"`
	Root      artifact.Reference `json:"root"`
	Writes    []PlannedWrite     `json:"writes"`

	// Levels groups the identity keys of Writes by commit level. Writes in
	// one level do not reference each other.
	Levels [][]string `json:"levels,omitempty"`
}

// Targets returns the references of every planned write, in order.
func (p *Plan) Targets() []artifact.Reference {
	refs := make([]artifact.Reference, len(p.Writes))
	for i, w := range p.Writes {
		refs[i] = w.Target()
	}
	return refs
}

// Result is the outcome of a state-changing lifecycle operation.
type Result struct {
	OperationID string             `json:"operation_id"`
	Operation   string             `json:"operation"`
	Root        artifact.Reference `json:"root"`
	Committed   []artifact.Node    `json:"committed"`
	Plan        *Plan              `json:"plan,omitempty"`
	Warnings    []Warning          `json:"warnings,omitempty"`
}

// Bundle is a read-only snapshot of a root artifact and its dependency
// closure.
type Bundle struct {
	OperationID string             `json:"operation_id"`
	Root        artifact.Reference `json:"root"`
	Entries     []artifact.Node    `json:"entries"`
	Edges       []Edge             `json:"edges,omitempty"`
	Unresolved  []Unresolved       `json:"unresolved,omitempty"`
	Warnings    []Warning          `json:"warnings,omitempty"`
	Fingerprint string             `json:"fingerprint"`
	CreatedAt   time.Time          `json:"created_at"`

	// Total counts the entries that passed the filters, before paging.
	Total int `json:"total"`
}

// DraftRequest asks for a new draft of Root.
type DraftRequest struct {
	Root artifact.Reference

	// Version is the new version without draft marker. When empty the
	// engine's VersionConvention picks one using Increment.
	Version   string
	Increment policy.Increment

	Policy policy.Policy
}

// ReleaseRequest asks for Root, a draft, to be released.
type ReleaseRequest struct {
	Root artifact.Reference

	// Version is the requested release version; how it combines with the
	// draft's own version depends on Policy.VersionBehavior.
	Version      string
	ReleaseLabel string

	Policy policy.Policy
}

// ApproveRequest attaches an approval to Target.
type ApproveRequest struct {
	Target artifact.Reference

	// Date defaults to now.
	Date *time.Time

	// Type defaults to "comment".
	Type    string
	Summary string
	Author  string

	// ArtifactTarget optionally names the approved canonical; it must match
	// Target's url and version.
	ArtifactTarget string
}

// IncludeArtifact is the include filter that selects the root itself.
const IncludeArtifact = "artifact"

// PackageRequest asks for a bundle of Root and its dependencies.
type PackageRequest struct {
	Root   artifact.Reference
	Policy policy.Policy

	// Include keeps only entries whose type is listed, plus the root when
	// IncludeArtifact is listed. Exclude drops the listed types and wins
	// over Include.
	Include []string
	Exclude []string

	// PackageOnly keeps the root and the components it owns.
	PackageOnly bool

	// Offset skips entries from the start of the filtered bundle. Count
	// caps the page size; nil means no cap.
	Offset int
	Count  *int
}
