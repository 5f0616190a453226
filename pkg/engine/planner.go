package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/repository"
)

// ownedClosure returns the keys reachable from the root through owned
// composed-of edges, the root included.
func ownedClosure(m *Manifest) map[string]bool {
	owned := map[string]bool{m.RootNode().Key(): true}
	queue := []artifact.Reference{m.RootNode().Reference}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, edge := range m.EdgesFrom(cur) {
			if !edge.Relationship.Owned || edge.Relationship.Kind != artifact.RelationshipComposedOf {
				continue
			}
			key := edge.Bound.Key()
			if owned[key] {
				continue
			}
			owned[key] = true
			queue = append(queue, edge.Bound)
		}
	}

	return owned
}

// pinRelationships rewrites the followed relationships of node to the
// versions their targets will have once the plan commits. versions maps
// identity keys of planned artifacts to their new versions.
func pinRelationships(node artifact.Node, m *Manifest, versions map[string]string) []artifact.Relationship {
	if len(node.Relationships) == 0 {
		return node.Relationships
	}

	bound := make(map[string]artifact.Reference)
	for _, edge := range m.EdgesFrom(node.Reference) {
		bound[string(edge.Relationship.Kind)+" "+edge.Relationship.Target.Key()] = edge.Bound
	}

	rels := make([]artifact.Relationship, len(node.Relationships))
	for i, rel := range node.Relationships {
		rels[i] = rel
		b, ok := bound[string(rel.Kind)+" "+rel.Target.Key()]
		if !ok {
			continue
		}
		if v, planned := versions[b.Key()]; planned {
			rels[i].Target.Version = v
		} else {
			rels[i].Target.Version = b.Version
		}
	}
	return rels
}

// planDraft stages new draft copies of the root and the dependencies that
// must track it.
func (e *Engine) planDraft(ctx context.Context, m *Manifest, pol policy.Policy, draftVersion string) (*Plan, error) {
	include := ownedClosure(m)
	if pol.VersionBehavior == policy.VersionForceUpdate {
		for _, key := range m.Order {
			include[key] = true
		}
	}

	rootKey := m.RootNode().Key()
	versions := make(map[string]string)
	var drafted []artifact.Node
	for _, key := range m.Order {
		n := m.Nodes[key]
		if !include[key] || (key != rootKey && n.Status == artifact.StatusDraft) {
			continue
		}
		versions[key] = draftVersion
		drafted = append(drafted, n)
	}

	plan := &Plan{Operation: OperationDraft, Root: m.Root}
	for _, n := range drafted {
		c := n.Clone()
		c.ID = ""
		c.Revision = 0
		c.Reference.Version = draftVersion
		c.Status = artifact.StatusDraft
		c.ApprovalDate = nil
		c.EffectivePeriod = nil
		c.ReleaseLabel = ""
		c.Approvals = nil
		c.Relationships = pinRelationships(n, m, versions)

		if n.Key() != rootKey {
			// An existing draft of a dependency at this version is adopted.
			_, exists, err := repository.ReadOptional(ctx, e.repo, c.Reference)
			if err != nil {
				return nil, fmt.Errorf("failed to check for existing draft of %s: %w", c.Reference.Canonical(), err)
			}
			if exists {
				continue
			}
		}

		plan.Writes = append(plan.Writes, PlannedWrite{Before: n, After: c, Create: true})
	}

	if err := orderPlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// releasable reports whether n is released by a release plan.
func releasable(n artifact.Node, pol policy.Policy) bool {
	return n.Status == artifact.StatusDraft ||
		(n.Status == artifact.StatusUnknown && pol.UnknownStatus == policy.UnknownDraft)
}

// planRelease stages the status and version changes that release the root
// and every draft in its closure.
func (e *Engine) planRelease(ctx context.Context, m *Manifest, pol policy.Policy, req ReleaseRequest, rootVersion string) (*Plan, error) {
	root := m.RootNode()
	rootKey := root.Key()

	for _, n := range m.Artifacts() {
		if n.Key() == rootKey {
			continue
		}
		switch {
		case n.Status == artifact.StatusRetired:
			return nil, newIncompleteGraphError(
				fmt.Sprintf("dependency %s is retired and cannot be part of a release", n.Reference.Canonical()),
				n.Reference, nil)
		case n.Status == artifact.StatusUnknown && pol.UnknownStatus != policy.UnknownDraft:
			return nil, newIncompleteGraphError(
				fmt.Sprintf("dependency %s has unknown status", n.Reference.Canonical()),
				n.Reference, nil)
		}
	}

	owned := ownedClosure(m)
	versions := make(map[string]string)
	for _, n := range m.Artifacts() {
		if !releasable(n, pol) {
			continue
		}
		key := n.Key()
		switch {
		case owned[key]:
			versions[key] = rootVersion
		default:
			v := policy.StripDraft(n.Reference.Version)
			if v == "" {
				next, err := e.nextVersion(ctx, n.Reference)
				if err != nil {
					return nil, err
				}
				v = next
			}
			versions[key] = v
		}
	}

	now := e.now()
	plan := &Plan{Operation: OperationRelease, Root: m.Root}
	for _, n := range m.Artifacts() {
		v, planned := versions[n.Key()]
		if !planned {
			continue
		}

		c := n.Clone()
		c.Reference.Version = v
		c.Status = artifact.StatusActive
		c.Date = &now
		if c.EffectivePeriod == nil && root.EffectivePeriod != nil {
			c.EffectivePeriod = root.Clone().EffectivePeriod
		}
		if n.Key() == rootKey && req.ReleaseLabel != "" {
			c.ReleaseLabel = req.ReleaseLabel
		}
		c.Relationships = pinRelationships(n, m, versions)

		plan.Writes = append(plan.Writes, PlannedWrite{Before: n, After: c})
	}

	if err := orderPlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// orderPlan sorts the writes of plan into commit order and records the
// commit levels.
func orderPlan(plan *Plan) error {
	g := NewCommitGraph()
	ordered, err := g.Order(plan.Writes)
	if err != nil {
		return err
	}
	plan.Writes = ordered
	plan.Levels = g.Levels()
	return nil
}

// nextVersion picks a version for an artifact that has none, one increment
// past the highest version the repository knows for its url.
func (e *Engine) nextVersion(ctx context.Context, ref artifact.Reference) (string, error) {
	existing, err := repository.Versions(ctx, e.repo, ref.URL)
	if err != nil {
		return "", fmt.Errorf("failed to list versions of %s: %w", ref.URL, err)
	}

	var released []string
	for _, n := range existing {
		if n.Reference.Version != "" && !policy.IsDraftVersion(n.Reference.Version) {
			released = append(released, n.Reference.Version)
		}
	}

	return e.convention.Next(ctx, policy.Latest(released), policy.IncrementPatch)
}

// validatePlan checks versions and collisions before anything is written.
func (e *Engine) validatePlan(ctx context.Context, plan *Plan) error {
	for _, w := range plan.Writes {
		version := w.After.Reference.Version
		if plan.Operation == OperationDraft {
			version = policy.StripDraft(version)
		}
		if err := policy.ValidateVersion(version); err != nil {
			var verr *artifact.Error
			if errors.As(err, &verr) {
				return verr.WithReference(w.After.Reference).WithOperation(plan.Operation)
			}
			return err
		}

		if !w.Create && w.Before.Reference.Version == w.After.Reference.Version {
			continue
		}

		existing, exists, err := repository.ReadOptional(ctx, e.repo, w.After.Reference)
		if err != nil {
			return fmt.Errorf("failed to check %s: %w", w.After.Reference.Canonical(), err)
		}
		if exists && (w.Create || existing.ID != w.Before.ID) {
			return artifact.NewInvalidStateError(
				fmt.Sprintf("%s already exists", w.After.Reference.Canonical())).
				WithReference(w.After.Reference).
				WithOperation(plan.Operation)
		}
	}
	return nil
}
