package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"
)

// Engine compiles Rego rules and evaluates them against release plans and
// package bundles.
type Engine struct {
	mu     sync.RWMutex
	rules  map[string]*compiledRule
	store  storage.Store
	logger zerolog.Logger
	loader *Loader
}

// compiledRule represents a compiled Rego rule.
type compiledRule struct {
	rule     *Rule
	module   *ast.Module
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new rule engine with the built-in rules loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		rules:  make(map[string]*compiledRule),
		store:  inmem.New(),
		logger: logger.With().Str("component", "rule-engine").Logger(),
	}
	e.loader = NewLoader(e.logger)

	if err := e.loadBuiltinRules(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in rules: %w", err)
	}

	return e, nil
}

// Evaluate runs every enabled rule scoped to input.Operation. A rule that
// fails to evaluate is recorded in RuleResult.Errors and does not block.
func (e *Engine) Evaluate(ctx context.Context, input *RuleInput) (*RuleResult, error) {
	if input == nil {
		return nil, fmt.Errorf("rule input is required")
	}
	if input.Timestamp.IsZero() {
		input.Timestamp = time.Now().UTC()
	}

	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := &RuleResult{Allowed: true}

	for _, name := range e.sortedNames() {
		cr := e.rules[name]
		if !cr.rule.Enabled || !cr.rule.appliesTo(input.Operation) {
			continue
		}

		result.EvaluatedRules = append(result.EvaluatedRules, name)

		violations, err := e.evaluateRule(ctx, cr, input)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			e.logger.Error().Err(err).
				Str("rule", name).
				Str("operation", input.Operation).
				Msg("Rule evaluation failed")
			result.Errors = append(result.Errors, fmt.Sprintf("rule %s evaluation failed: %v", name, err))
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	result.Duration = time.Since(startTime)
	e.logger.Debug().
		Str("operation", input.Operation).
		Str("root", input.Root.Canonical()).
		Int("violations", len(result.Violations)).
		Int("warnings", len(result.Warnings)).
		Dur("duration", result.Duration).
		Msg("Rule evaluation completed")

	return result, nil
}

// sortedNames gives evaluation a stable order. Callers hold e.mu.
func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.rules))
	for name := range e.rules {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) evaluateRule(ctx context.Context, cr *compiledRule, input *RuleInput) ([]Violation, error) {
	results, err := cr.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("rule evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cr.rule, d))
		}
	}

	// Sets come back in term order, not insertion order.
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].Artifact != violations[j].Artifact {
			return violations[i].Artifact < violations[j].Artifact
		}
		return violations[i].Message < violations[j].Message
	})

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(module string) string {
	for _, line := range strings.Split(module, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "curator.rules"
}

// createViolation converts one member of a deny set.
func createViolation(rule *Rule, result interface{}) Violation {
	violation := Violation{
		Rule:     rule.Name,
		Severity: rule.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok && sev != "" {
			violation.Severity = Severity(sev)
		}
		if ref, ok := v["artifact"].(string); ok {
			violation.Artifact = ref
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile parses rule and prepares its deny query.
func (e *Engine) compile(ctx context.Context, rule *Rule) (*compiledRule, error) {
	module, err := ast.ParseModule(rule.Name, rule.Rego)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule: %w", err)
	}

	r := rego.New(
		rego.Module(rule.Name, rule.Rego),
		rego.Store(e.store),
		rego.Query(fmt.Sprintf("data.%s.deny", extractPackageName(rule.Rego))),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare query: %w", err)
	}

	return &compiledRule{
		rule:     rule,
		module:   module,
		query:    query,
		compiled: time.Now(),
	}, nil
}

func (e *Engine) loadBuiltinRules(ctx context.Context) error {
	builtins := BuiltinRules()
	for i := range builtins {
		cr, err := e.compile(ctx, &builtins[i])
		if err != nil {
			return fmt.Errorf("failed to compile built-in rule %s: %w", builtins[i].Name, err)
		}
		e.rules[builtins[i].Name] = cr
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in rules loaded")

	return nil
}

// AddRule compiles and registers rule, replacing any rule with the same name.
func (e *Engine) AddRule(ctx context.Context, rule Rule) error {
	cr, err := e.compile(ctx, &rule)
	if err != nil {
		return fmt.Errorf("failed to compile rule %s: %w", rule.Name, err)
	}

	e.mu.Lock()
	e.rules[rule.Name] = cr
	e.mu.Unlock()

	return nil
}

// LoadRules loads rule files and directories. Either every rule compiles
// and is registered, or none is.
func (e *Engine) LoadRules(ctx context.Context, paths []string) error {
	rules, err := e.loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}

	compiled, err := e.compileAll(ctx, rules)
	if err != nil {
		return err
	}

	e.mu.Lock()
	for name, cr := range compiled {
		e.rules[name] = cr
	}
	e.mu.Unlock()

	e.logger.Info().
		Int("count", len(rules)).
		Msg("Rules loaded successfully")

	return nil
}

// ReplaceRules swaps every non-built-in rule for rules.
func (e *Engine) ReplaceRules(ctx context.Context, rules []Rule) error {
	compiled, err := e.compileAll(ctx, rules)
	if err != nil {
		return err
	}

	builtins := make(map[string]bool)
	for _, b := range BuiltinRules() {
		builtins[b.Name] = true
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name := range e.rules {
		if !builtins[name] {
			delete(e.rules, name)
		}
	}
	for name, cr := range compiled {
		e.rules[name] = cr
	}

	return nil
}

func (e *Engine) compileAll(ctx context.Context, rules []Rule) (map[string]*compiledRule, error) {
	compiled := make(map[string]*compiledRule, len(rules))
	for i := range rules {
		cr, err := e.compile(ctx, &rules[i])
		if err != nil {
			e.logger.Error().Err(err).
				Str("rule", rules[i].Name).
				Msg("Failed to compile rule")
			return nil, fmt.Errorf("failed to compile rule %s: %w", rules[i].Name, err)
		}
		compiled[rules[i].Name] = cr
	}
	return compiled, nil
}

// Watch reloads the rules under paths whenever they change.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	if err := e.LoadRules(ctx, paths); err != nil {
		return err
	}
	return e.loader.Watch(ctx, paths, func(rules []Rule) error {
		return e.ReplaceRules(ctx, rules)
	})
}

// GetRule returns a rule by name.
func (e *Engine) GetRule(name string) (*Rule, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cr, exists := e.rules[name]
	if !exists {
		return nil, fmt.Errorf("rule not found: %s", name)
	}

	return cr.rule, nil
}

// ListRules returns all loaded rules sorted by name.
func (e *Engine) ListRules() []Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]Rule, 0, len(e.rules))
	for _, name := range e.sortedNames() {
		rules = append(rules, *e.rules[name].rule)
	}

	return rules
}

// EnableRule enables a rule by name.
func (e *Engine) EnableRule(name string) error {
	return e.setEnabled(name, true)
}

// DisableRule disables a rule by name.
func (e *Engine) DisableRule(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cr, exists := e.rules[name]
	if !exists {
		return fmt.Errorf("rule not found: %s", name)
	}

	cr.rule.Enabled = enabled
	e.logger.Info().Str("rule", name).Bool("enabled", enabled).Msg("Rule state changed")

	return nil
}

// Close stops watching rule paths.
func (e *Engine) Close() error {
	return e.loader.StopWatching()
}
