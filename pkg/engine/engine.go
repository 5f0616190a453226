package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/repository"
	"github.com/curator-health/curator/pkg/telemetry"
)

// Engine runs the draft, release, approve and package lifecycle
// operations against one repository handle. Operations share no mutable
// state and may run concurrently.
type Engine struct {
	repo       repository.Handle
	resolver   *Resolver
	rules      RuleEvaluator
	evaluator  Evaluator
	convention VersionConvention
	logger     zerolog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithRuleEvaluator checks release plans and bundles against rules.
func WithRuleEvaluator(rules RuleEvaluator) Option {
	return func(e *Engine) {
		e.rules = rules
	}
}

// WithEvaluator validates embedded logic during release and package.
func WithEvaluator(evaluator Evaluator) Option {
	return func(e *Engine) {
		e.evaluator = evaluator
	}
}

// WithVersionConvention replaces the default semver increment.
func WithVersionConvention(convention VersionConvention) Option {
	return func(e *Engine) {
		e.convention = convention
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithClock sets the time source used for dates and approvals.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New creates an engine operating on repo.
func New(repo repository.Handle, opts ...Option) *Engine {
	e := &Engine{
		repo:       repo,
		convention: SemverConvention{},
		logger:     zerolog.Nop(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With().Str("component", "lifecycle").Logger()
	e.resolver = NewResolver(repo, e.logger)
	return e
}

// Resolver returns the resolver the engine traverses with.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// operation carries the per-invocation identity of a lifecycle operation.
type operation struct {
	id   string
	name string
	root artifact.Reference
}

// begin starts telemetry for an operation.
func (e *Engine) begin(ctx context.Context, name string, root artifact.Reference) (context.Context, operation) {
	op := operation{id: uuid.New().String(), name: name, root: root}
	ctx = telemetry.WithOperationContext(ctx, op.id, name, root.Canonical())

	e.logger.Info().
		Str("operation_id", op.id).
		Str("operation", name).
		Str("root", root.Canonical()).
		Msg("Lifecycle operation started")

	return ctx, op
}

// end completes telemetry for an operation.
func (e *Engine) end(ctx context.Context, op operation, written int, err error) {
	telemetry.EndOperationContext(ctx, op.id, op.name, op.root.Canonical(), written, err)

	if err != nil {
		telemetry.MetricsFromContext(ctx).RecordError(errorKind(err))
		e.logger.Warn().Err(err).
			Str("operation_id", op.id).
			Str("operation", op.name).
			Str("root", op.root.Canonical()).
			Msg("Lifecycle operation failed")
		return
	}

	e.logger.Info().
		Str("operation_id", op.id).
		Str("operation", op.name).
		Str("root", op.root.Canonical()).
		Int("written", written).
		Msg("Lifecycle operation completed")
}

// commit issues the plan's writes in order. Nothing is rolled back when a
// write fails or ctx is cancelled; the PartialCommitError lists what was
// and was not written.
func (e *Engine) commit(ctx context.Context, op operation, plan *Plan) ([]artifact.Node, error) {
	metrics := telemetry.MetricsFromContext(ctx)
	events := telemetry.EventsFromContext(ctx)

	committed := make([]artifact.Node, 0, len(plan.Writes))
	for i, w := range plan.Writes {
		if err := ctx.Err(); err != nil {
			return committed, e.partialCommit(op, plan, committed, i, err)
		}

		node, err := e.repo.Write(ctx, w.After)
		if err != nil {
			return committed, e.partialCommit(op, plan, committed, i, err)
		}

		committed = append(committed, node)
		metrics.RecordArtifactCommitted(op.name, string(node.Status))
		_ = events.PublishArtifactCommitted(op.id, node.Reference.Canonical(), string(node.Status))

		e.logger.Debug().
			Str("operation_id", op.id).
			Str("artifact", node.Reference.Canonical()).
			Str("status", string(node.Status)).
			Msg("Artifact committed")
	}

	return committed, nil
}

func (e *Engine) partialCommit(op operation, plan *Plan, committed []artifact.Node, failed int, cause error) error {
	done := make([]artifact.Reference, len(committed))
	for i, n := range committed {
		done[i] = n.Reference
	}

	return &PartialCommitError{
		Operation: op.name,
		Committed: done,
		Pending:   plan.Targets()[failed:],
		Cause:     cause,
	}
}
