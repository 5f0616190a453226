package engine

import (
	"context"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
)

// LogicReference identifies the executable logic embedded in an artifact.
type LogicReference struct {
	// Artifact is the artifact carrying the logic.
	Artifact artifact.Reference `json:"artifact"`

	// Source is the logic text.
	Source string `json:"source"`
}

// EvaluationResult is the outcome of evaluating embedded logic.
type EvaluationResult struct {
	// Passed is false when the logic reported validation failures.
	Passed bool `json:"passed"`

	// Messages are the failures or notes the logic reported.
	Messages []string `json:"messages,omitempty"`
}

// Evaluator executes logic embedded in artifacts during release and
// package validation. Its internals are outside the engine.
type Evaluator interface {
	Evaluate(ctx context.Context, ref LogicReference, input map[string]interface{}) (EvaluationResult, error)
}

// RuleEvaluator checks planned writes and bundles against organisational
// rules.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, input *policy.RuleInput) (*policy.RuleResult, error)
}

// VersionConvention picks a version when the caller supplies none.
type VersionConvention interface {
	Next(ctx context.Context, current string, inc policy.Increment) (string, error)
}

// SemverConvention increments the current version with policy.NextVersion.
type SemverConvention struct{}

// Next implements VersionConvention.
func (SemverConvention) Next(_ context.Context, current string, inc policy.Increment) (string, error) {
	return policy.NextVersion(current, inc)
}
