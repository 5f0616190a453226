// Package engine implements artifact graph resolution and the lifecycle
// operations that move artifacts between draft, active and retired.
//
// # Resolution
//
// A Resolver walks the dependency closure of a root artifact against a
// repository.Reader. Each declared relationship is bound to a concrete
// artifact according to a policy.Policy; the result is a Manifest with a
// deterministic pre-order, the bound edges and anything left unresolved.
// Cycles are reported as artifact.ErrCyclicDependency naming the full path.
//
//	m, err := engine.NewResolver(repo, logger).Resolve(ctx, root, engine.ResolveOptions{
//	    Policy: policy.Default(),
//	    Strict: true,
//	})
//
// # Lifecycle
//
// Engine exposes the four graph-wide operations:
//
//   - Draft copies an active artifact (and the components versioned with it)
//     into a new draft version.
//   - Release promotes a draft and the drafts in its closure to active.
//   - Approve appends an approval record without changing status.
//   - Package returns a read-only Bundle of the resolved closure.
//
// Mutating operations build a Plan first. The plan is validated in full
// (versions, collisions, rules and embedded logic) before the first write,
// then committed in dependency order through a CommitGraph. A failed or
// cancelled commit returns a *PartialCommitError listing what was written.
package engine
