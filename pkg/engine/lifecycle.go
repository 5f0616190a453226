package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/repository"
)

// Draft creates a new draft version of an active artifact and of the
// dependencies that are versioned with it.
func (e *Engine) Draft(ctx context.Context, req DraftRequest) (res *Result, err error) {
	ctx, op := e.begin(ctx, OperationDraft, req.Root)
	var committed []artifact.Node
	defer func() { e.end(ctx, op, len(committed), err) }()

	pol, err := preparePolicy(req.Policy)
	if err != nil {
		return nil, err
	}

	root, err := e.repo.Read(ctx, req.Root)
	if err != nil {
		return nil, err
	}
	switch root.Status {
	case artifact.StatusActive, artifact.StatusUnknown:
	default:
		return nil, artifact.NewInvalidStateError(
			fmt.Sprintf("cannot draft a %s artifact", root.Status)).
			WithReference(root.Reference).
			WithOperation(OperationDraft)
	}

	version := req.Version
	if version == "" {
		version, err = e.convention.Next(ctx, policy.StripDraft(root.Reference.Version), req.Increment)
		if err != nil {
			return nil, err
		}
	}
	if err := policy.ValidateVersion(version); err != nil {
		return nil, err
	}
	if version == policy.StripDraft(root.Reference.Version) {
		return nil, artifact.NewInvalidStateError(
			fmt.Sprintf("draft version %s must differ from the current version", version)).
			WithReference(root.Reference).
			WithOperation(OperationDraft)
	}

	draftVersion := policy.DraftVersion(version)
	draftRef := root.Reference.WithVersion(draftVersion)
	if _, exists, err := repository.ReadOptional(ctx, e.repo, draftRef); err != nil {
		return nil, err
	} else if exists {
		return nil, artifact.NewInvalidStateError(
			fmt.Sprintf("draft %s already exists", draftRef.Canonical())).
			WithReference(draftRef).
			WithOperation(OperationDraft)
	}

	m, err := e.resolver.ResolveNode(ctx, root, ResolveOptions{Policy: pol})
	if err != nil {
		return nil, err
	}
	if err := firstPolicyViolation(m); err != nil {
		return nil, err
	}

	warnings := append(manifestWarnings(m), unresolvedWarnings(m)...)

	plan, err := e.planDraft(ctx, m, pol, draftVersion)
	if err != nil {
		return nil, err
	}
	if err := e.validatePlan(ctx, plan); err != nil {
		return nil, err
	}

	ruleWarnings, err := e.checkRules(ctx, op, plannedNodes(plan))
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, ruleWarnings...)

	committed, err = e.commit(ctx, op, plan)
	if err != nil {
		return nil, err
	}

	return &Result{
		OperationID: op.id,
		Operation:   op.name,
		Root:        draftRef,
		Committed:   committed,
		Plan:        plan,
		Warnings:    warnings,
	}, nil
}

// Release promotes a draft artifact and the drafts in its closure to active.
func (e *Engine) Release(ctx context.Context, req ReleaseRequest) (res *Result, err error) {
	ctx, op := e.begin(ctx, OperationRelease, req.Root)
	var committed []artifact.Node
	defer func() { e.end(ctx, op, len(committed), err) }()

	pol, err := preparePolicy(req.Policy)
	if err != nil {
		return nil, err
	}

	root, err := e.repo.Read(ctx, req.Root)
	if err != nil {
		return nil, err
	}
	if !releasable(root, pol) {
		return nil, artifact.NewInvalidStateError(
			fmt.Sprintf("cannot release a %s artifact", root.Status)).
			WithReference(root.Reference).
			WithOperation(OperationRelease)
	}

	requested := req.Version
	if requested == "" && policy.StripDraft(root.Reference.Version) == "" {
		// An unversioned root gets the next patch version, as its
		// unversioned dependencies do.
		if requested, err = e.nextVersion(ctx, root.Reference); err != nil {
			return nil, err
		}
	}
	rootVersion, err := policy.ReleaseVersion(pol.VersionBehavior, requested, policy.StripDraft(root.Reference.Version))
	if err != nil {
		var aerr *artifact.Error
		if errors.As(err, &aerr) {
			return nil, aerr.WithReference(root.Reference).WithOperation(OperationRelease)
		}
		return nil, err
	}

	m, err := e.resolver.ResolveNode(ctx, root, ResolveOptions{Policy: pol, Strict: true})
	if err != nil {
		if errors.Is(err, artifact.ErrUnresolvedDependency) {
			var aerr *artifact.Error
			ref := root.Reference
			if errors.As(err, &aerr) {
				ref = aerr.Reference
			}
			return nil, newIncompleteGraphError("release requires a fully resolved graph", ref, err)
		}
		return nil, err
	}

	plan, err := e.planRelease(ctx, m, pol, req, rootVersion)
	if err != nil {
		return nil, err
	}
	if err := e.validatePlan(ctx, plan); err != nil {
		return nil, err
	}

	after := plannedNodes(plan)
	warnings := manifestWarnings(m)
	ruleWarnings, err := e.checkRules(ctx, op, after)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, ruleWarnings...)

	if err := e.checkLogic(ctx, op, after); err != nil {
		return nil, err
	}

	committed, err = e.commit(ctx, op, plan)
	if err != nil {
		return nil, err
	}

	return &Result{
		OperationID: op.id,
		Operation:   op.name,
		Root:        root.Reference.WithVersion(rootVersion),
		Committed:   committed,
		Plan:        plan,
		Warnings:    warnings,
	}, nil
}

// Approve attaches an approval record to a draft or active artifact. The
// lifecycle status is left unchanged.
func (e *Engine) Approve(ctx context.Context, req ApproveRequest) (res *Result, err error) {
	ctx, op := e.begin(ctx, OperationApprove, req.Target)
	var committed []artifact.Node
	defer func() { e.end(ctx, op, len(committed), err) }()

	node, err := e.repo.Read(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	switch node.Status {
	case artifact.StatusDraft, artifact.StatusActive:
	default:
		return nil, artifact.NewInvalidStateError(
			fmt.Sprintf("cannot approve a %s artifact", node.Status)).
			WithReference(node.Reference).
			WithOperation(OperationApprove)
	}

	if req.ArtifactTarget != "" {
		target := artifact.ParseCanonical(req.ArtifactTarget)
		if target.URL != node.Reference.URL || (target.HasVersion() && target.Version != node.Reference.Version) {
			return nil, artifact.NewPolicyViolation(
				fmt.Sprintf("approval target %s does not match %s", req.ArtifactTarget, node.Reference.Canonical()),
				"target").
				WithReference(node.Reference).
				WithOperation(OperationApprove)
		}
	}

	date := e.now()
	if req.Date != nil {
		date = req.Date.UTC()
	}
	kind := req.Type
	if kind == "" {
		kind = "comment"
	}

	approved := node.Clone()
	approved.Approvals = append(approved.Approvals, artifact.Approval{
		ID:      uuid.New().String(),
		Date:    date,
		Type:    kind,
		Summary: req.Summary,
		Author:  req.Author,
		Target:  req.ArtifactTarget,
	})
	approved.ApprovalDate = &date

	plan := &Plan{
		Operation: OperationApprove,
		Root:      node.Reference,
		Writes:    []PlannedWrite{{Before: node, After: approved}},
	}
	if err := orderPlan(plan); err != nil {
		return nil, err
	}

	warnings, err := e.checkRules(ctx, op, plannedNodes(plan))
	if err != nil {
		return nil, err
	}

	committed, err = e.commit(ctx, op, plan)
	if err != nil {
		return nil, err
	}

	return &Result{
		OperationID: op.id,
		Operation:   op.name,
		Root:        node.Reference,
		Committed:   committed,
		Plan:        plan,
		Warnings:    warnings,
	}, nil
}

// Package resolves the closure of an artifact into a read-only bundle.
// Nothing is written.
func (e *Engine) Package(ctx context.Context, req PackageRequest) (bundle *Bundle, err error) {
	ctx, op := e.begin(ctx, OperationPackage, req.Root)
	defer func() { e.end(ctx, op, 0, err) }()

	if err := validatePaging(req); err != nil {
		return nil, err.WithReference(req.Root).WithOperation(OperationPackage)
	}
	pol, err := preparePolicy(req.Policy)
	if err != nil {
		return nil, err
	}

	m, err := e.resolver.Resolve(ctx, req.Root, ResolveOptions{Policy: pol})
	if err != nil {
		return nil, err
	}

	entries := packageEntries(m, req)
	warnings := append(manifestWarnings(m), unresolvedWarnings(m)...)

	ruleWarnings, err := e.checkRules(ctx, op, entries)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, ruleWarnings...)

	if err := e.checkLogic(ctx, op, entries); err != nil {
		return nil, err
	}

	return &Bundle{
		OperationID: op.id,
		Root:        m.RootNode().Reference,
		Entries:     pageEntries(entries, req.Offset, req.Count),
		Edges:       edgesWithin(m.Edges, entries),
		Unresolved:  m.Unresolved,
		Warnings:    warnings,
		Fingerprint: m.Fingerprint(),
		CreatedAt:   e.now(),
		Total:       len(entries),
	}, nil
}

func validatePaging(req PackageRequest) *artifact.Error {
	if req.Offset < 0 {
		return artifact.NewPolicyViolation("offset must be non-negative", "offset")
	}
	if req.Count != nil && *req.Count < 0 {
		return artifact.NewPolicyViolation("count must be non-negative", "count")
	}
	return nil
}

// packageEntries applies the ownership and type filters of req to the
// manifest, keeping manifest order.
func packageEntries(m *Manifest, req PackageRequest) []artifact.Node {
	var owned map[string]bool
	if req.PackageOnly {
		owned = ownedClosure(m)
	}
	rootKey := m.RootNode().Key()

	var out []artifact.Node
	for _, n := range m.Artifacts() {
		if owned != nil && !owned[n.Key()] {
			continue
		}
		if !typeSelected(n, n.Key() == rootKey, req.Include, req.Exclude) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func typeSelected(n artifact.Node, root bool, include, exclude []string) bool {
	if slices.Contains(exclude, n.Reference.Type) {
		return false
	}
	if len(include) == 0 {
		return true
	}
	return slices.Contains(include, n.Reference.Type) || (root && slices.Contains(include, IncludeArtifact))
}

func pageEntries(entries []artifact.Node, offset int, count *int) []artifact.Node {
	if offset >= len(entries) {
		return []artifact.Node{}
	}
	entries = entries[offset:]
	if count != nil && *count < len(entries) {
		entries = entries[:*count]
	}
	return entries
}

// edgesWithin keeps the edges declared by one of entries.
func edgesWithin(edges []Edge, entries []artifact.Node) []Edge {
	keep := make(map[string]bool, len(entries))
	for _, n := range entries {
		keep[n.Key()] = true
	}
	var out []Edge
	for _, edge := range edges {
		if keep[edge.From.Key()] {
			out = append(out, edge)
		}
	}
	return out
}

func preparePolicy(p policy.Policy) (policy.Policy, error) {
	p = p.Normalize()
	if err := p.Validate(); err != nil {
		return policy.Policy{}, artifact.NewPolicyViolation(err.Error(), "policy")
	}
	return p, nil
}

func manifestWarnings(m *Manifest) []Warning {
	return append([]Warning(nil), m.Warnings...)
}

func plannedNodes(plan *Plan) []artifact.Node {
	nodes := make([]artifact.Node, len(plan.Writes))
	for i, w := range plan.Writes {
		nodes[i] = w.After
	}
	return nodes
}
