package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/telemetry"
)

// firstPolicyViolation returns the first unresolved dependency that a
// policy rejected, or nil.
func firstPolicyViolation(m *Manifest) error {
	for _, u := range m.Unresolved {
		if errors.Is(u.Err, artifact.ErrPolicyViolation) {
			return u.Err
		}
	}
	return nil
}

// unresolvedWarnings turns non-policy unresolved dependencies into warnings.
func unresolvedWarnings(m *Manifest) []Warning {
	var warnings []Warning
	for _, u := range m.Unresolved {
		if errors.Is(u.Err, artifact.ErrPolicyViolation) {
			continue
		}
		warnings = append(warnings, Warning{
			Artifact: u.From,
			Field:    "relationship",
			Message:  u.Reason,
		})
	}
	return warnings
}

// checkRules evaluates the configured rules. Blocking violations become a
// PolicyViolation error; everything else becomes warnings.
func (e *Engine) checkRules(ctx context.Context, op operation, artifacts []artifact.Node) ([]Warning, error) {
	if e.rules == nil {
		return nil, nil
	}

	result, err := e.rules.Evaluate(ctx, &policy.RuleInput{
		Operation: op.name,
		Root:      op.root,
		Artifacts: artifacts,
		Timestamp: e.now(),
		Metadata:  map[string]interface{}{"operation_id": op.id},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate rules: %w", err)
	}

	events := telemetry.EventsFromContext(ctx)
	metrics := telemetry.MetricsFromContext(ctx)

	var warnings []Warning
	for _, v := range result.Warnings {
		metrics.RecordPolicyWarning(v.Rule)
		_ = events.PublishPolicyWarning(op.id, v.Artifact, v.Rule, v.Message)
		warnings = append(warnings, Warning{
			Artifact: artifact.ParseCanonical(v.Artifact),
			Rule:     v.Rule,
			Message:  v.Message,
		})
	}
	for _, msg := range result.Errors {
		warnings = append(warnings, Warning{Artifact: op.root, Message: msg})
	}

	if result.Allowed {
		return warnings, nil
	}

	messages := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		_ = events.PublishPolicyViolation(op.id, v.Artifact, v.Rule, v.Message)
		messages = append(messages, fmt.Sprintf("%s: %s", v.Rule, v.Message))
	}

	first := result.Violations[0]
	ref := op.root
	if first.Artifact != "" {
		ref = artifact.ParseCanonical(first.Artifact)
	}

	return warnings, artifact.NewPolicyViolation(strings.Join(messages, "; "), "rule:"+first.Rule).
		WithReference(ref).
		WithOperation(op.name).
		WithDetail("violations", result.Violations)
}

// checkLogic evaluates the embedded logic of every artifact that has any.
func (e *Engine) checkLogic(ctx context.Context, op operation, artifacts []artifact.Node) error {
	if e.evaluator == nil {
		return nil
	}

	for _, n := range artifacts {
		if !n.HasLogic() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		input := map[string]interface{}{
			"operation":    op.name,
			"url":          n.Reference.URL,
			"version":      n.Reference.Version,
			"type":         n.Reference.Type,
			"status":       string(n.Status),
			"experimental": n.Experimental,
			"title":        n.Title,
		}

		res, err := e.evaluator.Evaluate(ctx, LogicReference{Artifact: n.Reference, Source: n.Logic}, input)
		if err != nil {
			if errors.Is(err, artifact.ErrEvaluation) {
				return err
			}
			return artifact.NewError(artifact.KindEvaluation,
				fmt.Sprintf("failed to evaluate logic of %s", n.Reference.Canonical()), err).
				WithReference(n.Reference).
				WithOperation(op.name)
		}
		if !res.Passed {
			return artifact.NewError(artifact.KindEvaluation,
				fmt.Sprintf("logic of %s rejected the %s: %s", n.Reference.Canonical(), op.name, strings.Join(res.Messages, "; ")), nil).
				WithReference(n.Reference).
				WithOperation(op.name).
				WithDetail("messages", res.Messages)
		}
	}

	return nil
}
