package logic

import (
	"context"
	"fmt"
	"os"

	"go.starlark.net/starlark"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/engine"
	"github.com/curator-health/curator/pkg/policy"
)

const nextVersionFunc = "next_version"

// ScriptConvention picks versions by calling next_version(current, increment)
// in a Starlark script. It implements engine.VersionConvention.
type ScriptConvention struct {
	evaluator *Evaluator
	name      string
	source    string
}

var _ engine.VersionConvention = (*ScriptConvention)(nil)

// NewScriptConvention wraps source, which must define next_version.
func NewScriptConvention(evaluator *Evaluator, name, source string) *ScriptConvention {
	return &ScriptConvention{evaluator: evaluator, name: name, source: source}
}

// LoadScriptConvention reads a convention script from path.
func LoadScriptConvention(evaluator *Evaluator, path string) (*ScriptConvention, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read version convention %s: %w", path, err)
	}
	return NewScriptConvention(evaluator, path, string(data)), nil
}

// Next implements engine.VersionConvention.
func (c *ScriptConvention) Next(ctx context.Context, current string, inc policy.Increment) (string, error) {
	args := starlark.Tuple{starlark.String(current), starlark.String(string(inc))}

	value, err := c.evaluator.call(ctx, c.name, c.source, nextVersionFunc, args)
	if err != nil {
		return "", artifact.NewError(artifact.KindEvaluation, "version convention failed", err).
			WithDetail("script", c.name)
	}

	next, ok := starlark.AsString(value)
	if !ok {
		return "", artifact.NewError(artifact.KindEvaluation,
			fmt.Sprintf("next_version returned %s, want string", value.Type()), nil).
			WithDetail("script", c.name)
	}
	if err := policy.ValidateVersion(next); err != nil {
		return "", err
	}
	return next, nil
}
