package logic

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/engine"
)

func logicRef(source string) engine.LogicReference {
	return engine.LogicReference{
		Artifact: artifact.NewReference("http://x/Library/a", "1.0.0", "Library"),
		Source:   source,
	}
}

func TestEvaluator_Evaluate(t *testing.T) {
	evaluator := NewEvaluator(zerolog.Nop())
	ctx := context.Background()

	tests := []struct {
		name         string
		script       string
		input        map[string]interface{}
		wantPassed   bool
		wantMessages []string
		wantErr      bool
	}{
		{
			name: "bool result",
			script: `
def evaluate(ctx):
    return ctx.status == "active"
`,
			input:      map[string]interface{}{"status": "active"},
			wantPassed: true,
		},
		{
			name: "message result",
			script: `
def evaluate(ctx):
    return "title is required"
`,
			wantPassed:   false,
			wantMessages: []string{"title is required"},
		},
		{
			name: "list of messages",
			script: `
def evaluate(ctx):
    problems = []
    if not ctx.title:
        problems.append("title is required")
    if ctx.experimental:
        problems.append("experimental content")
    return problems
`,
			input:        map[string]interface{}{"title": "", "experimental": true},
			wantPassed:   false,
			wantMessages: []string{"title is required", "experimental content"},
		},
		{
			name: "empty list passes",
			script: `
def evaluate(ctx):
    return []
`,
			wantPassed: true,
		},
		{
			name: "dict result",
			script: `
def evaluate(ctx):
    return {"passed": semver_compare(ctx.version, "1.0.0") >= 0, "messages": ["checked"]}
`,
			input:        map[string]interface{}{"version": "1.2.0"},
			wantPassed:   true,
			wantMessages: []string{"checked"},
		},
		{
			name: "draft helpers",
			script: `
def evaluate(ctx):
    return is_draft(ctx.version) and strip_draft(ctx.version) == "2.0.0"
`,
			input:      map[string]interface{}{"version": "2.0.0-draft"},
			wantPassed: true,
		},
		{
			name:    "missing evaluate function",
			script:  `x = 1`,
			wantErr: true,
		},
		{
			name: "syntax error",
			script: `
def evaluate(ctx)
    return True
`,
			wantErr: true,
		},
		{
			name: "runtime error",
			script: `
def evaluate(ctx):
    return 1 / 0
`,
			wantErr: true,
		},
		{
			name: "unsupported result",
			script: `
def evaluate(ctx):
    return 42
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluator.Evaluate(ctx, logicRef(tt.script), tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, artifact.ErrEvaluation) {
					t.Errorf("expected evaluation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Passed != tt.wantPassed {
				t.Errorf("expected passed=%v, got %v", tt.wantPassed, result.Passed)
			}
			if len(result.Messages) != len(tt.wantMessages) {
				t.Fatalf("expected messages %v, got %v", tt.wantMessages, result.Messages)
			}
			for i := range tt.wantMessages {
				if result.Messages[i] != tt.wantMessages[i] {
					t.Errorf("message %d: expected %q, got %q", i, tt.wantMessages[i], result.Messages[i])
				}
			}
		})
	}
}

func TestEvaluator_StepBudget(t *testing.T) {
	evaluator := NewEvaluator(zerolog.Nop(), WithMaxSteps(1000))

	script := `
def evaluate(ctx):
    total = 0
    for i in range(1000000):
        total += i
    return True
`
	_, err := evaluator.Evaluate(context.Background(), logicRef(script), nil)
	if !errors.Is(err, artifact.ErrEvaluation) {
		t.Fatalf("expected evaluation error, got %v", err)
	}
}

func TestEvaluator_Timeout(t *testing.T) {
	evaluator := NewEvaluator(zerolog.Nop(), WithTimeout(50*time.Millisecond), WithMaxSteps(1<<62))

	script := `
def evaluate(ctx):
    total = 0
    for i in range(1000000000):
        total += i
    return True
`
	start := time.Now()
	_, err := evaluator.Evaluate(context.Background(), logicRef(script), nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("evaluation was not cancelled promptly: %v", elapsed)
	}
}

func TestEvaluator_UnsupportedInput(t *testing.T) {
	evaluator := NewEvaluator(zerolog.Nop())

	_, err := evaluator.Evaluate(context.Background(), logicRef("def evaluate(ctx):\n    return True\n"),
		map[string]interface{}{"when": time.Now()})
	if !errors.Is(err, artifact.ErrEvaluation) {
		t.Fatalf("expected evaluation error, got %v", err)
	}
}
