package engine

import (
	"context"
	"errors"
	"fmt"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/repository"
	"github.com/curator-health/curator/pkg/telemetry"
)

// visitState tracks a node through one traversal.
type visitState int

const (
	unvisited visitState = iota
	inProgress
	resolved
)

// Resolver builds dependency manifests by depth-first traversal of
// artifact relationships. It is safe for concurrent use; each call to
// Resolve owns its traversal state and fetch cache.
type Resolver struct {
	reader repository.Reader
	logger zerolog.Logger
}

// NewResolver creates a resolver reading through reader.
func NewResolver(reader repository.Reader, logger zerolog.Logger) *Resolver {
	return &Resolver{
		reader: reader,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// fetchResult is a cached repository read, negative results included.
type fetchResult struct {
	node artifact.Node
	err  error
}

// traversal is the state of one Resolve call.
type traversal struct {
	r        *Resolver
	opts     ResolveOptions
	manifest *Manifest
	state    map[string]visitState
	stack    []artifact.Reference
	bindings map[string]string
	cache    *gocache.Cache
	metrics  *telemetry.Metrics
}

// Resolve reads root and builds its manifest.
func (r *Resolver) Resolve(ctx context.Context, root artifact.Reference, opts ResolveOptions) (*Manifest, error) {
	t := r.newTraversal(ctx, root, opts)

	node, err := t.fetch(ctx, root)
	if err != nil {
		return nil, err
	}

	return t.run(ctx, node)
}

// ResolveNode builds the manifest of an already-read root.
func (r *Resolver) ResolveNode(ctx context.Context, root artifact.Node, opts ResolveOptions) (*Manifest, error) {
	t := r.newTraversal(ctx, root.Reference, opts)
	t.cache.Set(root.Key(), fetchResult{node: root}, gocache.NoExpiration)
	return t.run(ctx, root)
}

func (r *Resolver) newTraversal(ctx context.Context, root artifact.Reference, opts ResolveOptions) *traversal {
	return &traversal{
		r:        r,
		opts:     opts,
		manifest: newManifest(root),
		state:    make(map[string]visitState),
		bindings: make(map[string]string),
		cache:    gocache.New(gocache.NoExpiration, 0),
		metrics:  telemetry.MetricsFromContext(ctx),
	}
}

func (t *traversal) run(ctx context.Context, root artifact.Node) (*Manifest, error) {
	if tel := telemetry.FromTelemetryContext(ctx); tel != nil {
		var span trace.Span
		ctx, span = tel.Tracer.StartResolveSpan(ctx, root.Reference.Canonical(), t.opts.Strict)
		defer span.End()
	}

	t.manifest.Root = root.Reference
	t.bindings[root.Reference.URL] = root.Reference.Version

	if err := t.visit(ctx, root); err != nil {
		return nil, err
	}

	t.r.logger.Debug().
		Str("root", root.Reference.Canonical()).
		Int("nodes", t.manifest.Len()).
		Int("unresolved", len(t.manifest.Unresolved)).
		Int("warnings", len(t.manifest.Warnings)).
		Msg("Manifest resolved")

	return t.manifest, nil
}

// visit resolves node's relationships in declaration order and recurses
// into every newly bound dependency.
func (t *traversal) visit(ctx context.Context, node artifact.Node) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	key := node.Key()
	t.state[key] = inProgress
	t.stack = append(t.stack, node.Reference)
	t.manifest.add(node)
	t.metrics.RecordResolverVisit("visited")

	for _, rel := range node.Relationships {
		if !t.opts.follows(rel.Kind) {
			t.manifest.Edges = append(t.manifest.Edges, Edge{From: node.Reference, Relationship: rel})
			continue
		}

		dep, edge, ok, err := t.bind(ctx, node, rel)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		t.manifest.Edges = append(t.manifest.Edges, edge)

		switch t.state[edge.Bound.Key()] {
		case inProgress:
			t.metrics.RecordResolverVisit("cycle")
			return artifact.NewCyclicDependencyError(t.cyclePath(edge.Bound)).
				WithReference(node.Reference)
		case resolved:
			continue
		}

		if err := t.visit(ctx, dep); err != nil {
			return err
		}
	}

	t.stack = t.stack[:len(t.stack)-1]
	t.state[key] = resolved
	return nil
}

// bind resolves one followed relationship. ok is false when the edge was
// recorded as unresolved; err is non-nil only when traversal must stop.
func (t *traversal) bind(ctx context.Context, consumer artifact.Node, rel artifact.Relationship) (artifact.Node, Edge, bool, error) {
	pol := t.opts.Policy

	target, decision, ok := pol.Target(rel.Target)
	if !ok {
		return artifact.Node{}, Edge{}, false, t.unresolved(consumer, rel, decision.Reason, decision.Err)
	}

	candidate, err := t.fetch(ctx, target)
	if err != nil {
		if artifact.IsNotFound(err) {
			reason := fmt.Sprintf("dependency %s not found", rel.Target.Canonical())
			return artifact.Node{}, Edge{}, false, t.unresolved(consumer, rel, reason, err)
		}
		return artifact.Node{}, Edge{}, false, err
	}

	decision = pol.Evaluate(consumer, rel.Target, candidate)
	if !decision.Accepted() {
		return artifact.Node{}, Edge{}, false, t.unresolved(consumer, rel, decision.Reason, decision.Err)
	}

	bound := decision.Bound
	if prev, seen := t.bindings[bound.URL]; seen && prev != bound.Version && !pol.Normalize().AllowMultipleVersions {
		reason := fmt.Sprintf("%s is already bound to version %q, cannot also bind %q", bound.URL, prev, bound.Version)
		verr := artifact.NewPolicyViolation(reason, "version").WithReference(bound)
		return artifact.Node{}, Edge{}, false, t.unresolved(consumer, rel, reason, verr)
	}
	t.bindings[bound.URL] = bound.Version

	if decision.Action == policy.Warn {
		t.metrics.RecordPolicyWarning("experimental")
		t.manifest.Warnings = append(t.manifest.Warnings, Warning{
			Artifact: consumer.Reference,
			Field:    "experimental",
			Message:  decision.Reason,
		})
	}

	edge := Edge{
		From:         consumer.Reference,
		Relationship: rel,
		Bound:        bound,
		Followed:     true,
		Mutated:      decision.Mutated,
	}
	return candidate, edge, true, nil
}

// unresolved records an unbindable dependency. In strict mode it returns
// the error that aborts the traversal.
func (t *traversal) unresolved(consumer artifact.Node, rel artifact.Relationship, reason string, cause error) error {
	t.metrics.RecordResolverVisit("unresolved")
	declared := rel.Target

	u := Unresolved{
		From:     consumer.Reference,
		Declared: declared,
		Reason:   reason,
		Err:      cause,
	}
	if kind, ok := artifact.KindOf(cause); ok {
		u.Kind = string(kind)
	}
	t.manifest.Unresolved = append(t.manifest.Unresolved, u)
	t.manifest.Edges = append(t.manifest.Edges, Edge{
		From:         consumer.Reference,
		Relationship: rel,
		Followed:     true,
	})

	if !t.opts.Strict {
		return nil
	}

	return artifact.NewError(artifact.KindUnresolvedDependency,
		fmt.Sprintf("unresolved dependency %s of %s: %s", declared.Canonical(), consumer.Reference.Canonical(), reason),
		cause).
		WithReference(declared).
		WithPath(append(append([]artifact.Reference(nil), t.stack...), declared))
}

// fetch reads ref through the per-traversal cache.
func (t *traversal) fetch(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	key := ref.Key()
	if cached, ok := t.cache.Get(key); ok {
		t.metrics.RecordResolverCacheHit()
		res := cached.(fetchResult)
		return res.node, res.err
	}

	node, err := t.r.reader.Read(ctx, ref)
	if err != nil && !artifact.IsNotFound(err) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return artifact.Node{}, err
		}
		return artifact.Node{}, fmt.Errorf("failed to read %s: %w", ref.Canonical(), err)
	}

	t.cache.Set(key, fetchResult{node: node, err: err}, gocache.NoExpiration)
	if err == nil && node.Key() != key {
		// An unversioned read also answers for the version it returned.
		t.cache.Set(node.Key(), fetchResult{node: node}, gocache.NoExpiration)
	}
	return node, err
}

// cyclePath returns the stack from the first occurrence of ref, closed
// with ref again.
func (t *traversal) cyclePath(ref artifact.Reference) []artifact.Reference {
	key := ref.Key()
	for i, r := range t.stack {
		if r.Key() == key {
			path := append([]artifact.Reference(nil), t.stack[i:]...)
			return append(path, ref)
		}
	}
	return []artifact.Reference{ref}
}
