package logic

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/engine"
	"github.com/curator-health/curator/pkg/policy"
)

const (
	// DefaultTimeout bounds a single script run.
	DefaultTimeout = 5 * time.Second

	// DefaultMaxSteps bounds the number of Starlark computation steps.
	DefaultMaxSteps = 1_000_000

	evaluateFunc = "evaluate"
)

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithTimeout sets the per-run timeout.
func WithTimeout(d time.Duration) Option {
	return func(e *Evaluator) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithMaxSteps sets the per-run step budget.
func WithMaxSteps(n uint64) Option {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// Evaluator executes Starlark scripts. It implements engine.Evaluator.
type Evaluator struct {
	timeout  time.Duration
	maxSteps uint64
	logger   zerolog.Logger
}

var _ engine.Evaluator = (*Evaluator)(nil)

// NewEvaluator creates a new Starlark evaluator.
func NewEvaluator(logger zerolog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		timeout:  DefaultTimeout,
		maxSteps: DefaultMaxSteps,
		logger:   logger.With().Str("component", "logic").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate runs the evaluate function of ref.Source with input as its
// argument.
func (e *Evaluator) Evaluate(ctx context.Context, ref engine.LogicReference, input map[string]interface{}) (engine.EvaluationResult, error) {
	startTime := time.Now()

	arg, err := scriptInput(input)
	if err != nil {
		return engine.EvaluationResult{}, evaluationError(ref.Artifact, err)
	}

	value, err := e.call(ctx, ref.Artifact.Canonical(), ref.Source, evaluateFunc, starlark.Tuple{arg})
	if err != nil {
		return engine.EvaluationResult{}, evaluationError(ref.Artifact, err)
	}

	result, err := interpret(value)
	if err != nil {
		return engine.EvaluationResult{}, evaluationError(ref.Artifact, err)
	}

	e.logger.Debug().
		Str("artifact", ref.Artifact.Canonical()).
		Bool("passed", result.Passed).
		Dur("duration", time.Since(startTime)).
		Msg("Logic evaluated")

	return result, nil
}

// call executes source and calls its top-level function fn with args.
func (e *Evaluator) call(ctx context.Context, filename, source, fn string, args starlark.Tuple) (starlark.Value, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "curator",
		Print: func(_ *starlark.Thread, msg string) {
			e.logger.Debug().Str("script", filename).Msg(msg)
		},
	}
	thread.SetMaxExecutionSteps(e.maxSteps)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-evalCtx.Done():
			thread.Cancel(evalCtx.Err().Error())
		case <-done:
		}
	}()

	globals, err := starlark.ExecFile(thread, filename, source, predeclared())
	if err != nil {
		return nil, runError(evalCtx, err)
	}

	callable, ok := globals[fn].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script does not define a %s function", fn)
	}

	value, err := starlark.Call(thread, callable, args, nil)
	if err != nil {
		return nil, runError(evalCtx, err)
	}
	return value, nil
}

func runError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("starlark execution timeout: %w", ctxErr)
		}
		return ctxErr
	}
	return fmt.Errorf("starlark execution failed: %w", err)
}

// interpret maps the value returned by evaluate to a result.
func interpret(v starlark.Value) (engine.EvaluationResult, error) {
	goVal, err := fromScript(v)
	if err != nil {
		return engine.EvaluationResult{}, err
	}

	switch val := goVal.(type) {
	case bool:
		return engine.EvaluationResult{Passed: val}, nil
	case nil:
		return engine.EvaluationResult{Passed: true}, nil
	case string:
		return engine.EvaluationResult{Passed: false, Messages: []string{val}}, nil
	case []interface{}:
		messages, err := toMessages(val)
		if err != nil {
			return engine.EvaluationResult{}, err
		}
		return engine.EvaluationResult{Passed: len(messages) == 0, Messages: messages}, nil
	case map[string]interface{}:
		passed, ok := val["passed"].(bool)
		if !ok {
			return engine.EvaluationResult{}, fmt.Errorf("evaluate result dict needs a bool \"passed\" key")
		}
		var messages []string
		if raw, ok := val["messages"].([]interface{}); ok {
			if messages, err = toMessages(raw); err != nil {
				return engine.EvaluationResult{}, err
			}
		}
		return engine.EvaluationResult{Passed: passed, Messages: messages}, nil
	default:
		return engine.EvaluationResult{}, fmt.Errorf("unsupported evaluate result %T", goVal)
	}
}

func toMessages(items []interface{}) ([]string, error) {
	messages := make([]string, 0, len(items))
	for _, item := range items {
		msg, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("evaluate messages must be strings, got %T", item)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func evaluationError(ref artifact.Reference, err error) error {
	return artifact.NewError(artifact.KindEvaluation,
		fmt.Sprintf("failed to evaluate logic of %s", ref.Canonical()), err).
		WithReference(ref)
}

// predeclared returns the globals every script sees.
func predeclared() starlark.StringDict {
	return starlark.StringDict{
		"struct":         starlark.NewBuiltin("struct", starlarkstruct.Make),
		"semver_compare": starlark.NewBuiltin("semver_compare", builtinSemverCompare),
		"is_draft":       starlark.NewBuiltin("is_draft", builtinIsDraft),
		"strip_draft":    starlark.NewBuiltin("strip_draft", builtinStripDraft),
	}
}

// builtinSemverCompare implements semver_compare(a, b) -> -1, 0 or 1.
func builtinSemverCompare(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v1, v2 string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "a", &v1, "b", &v2); err != nil {
		return nil, err
	}
	return starlark.MakeInt(policy.CompareVersions(v1, v2)), nil
}

// builtinIsDraft implements is_draft(version).
func builtinIsDraft(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var version string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "version", &version); err != nil {
		return nil, err
	}
	return starlark.Bool(policy.IsDraftVersion(version)), nil
}

// builtinStripDraft implements strip_draft(version).
func builtinStripDraft(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var version string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "version", &version); err != nil {
		return nil, err
	}
	return starlark.String(policy.StripDraft(version)), nil
}
