package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/curator-health/curator/pkg/config"
	"github.com/curator-health/curator/pkg/engine"
	"github.com/curator-health/curator/pkg/logic"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/repository"
	"github.com/curator-health/curator/pkg/telemetry"
)

// runtime holds everything a command needs, built from the topology file
// and settings.
type runtime struct {
	topology  *config.Topology
	handles   *config.Handles
	repo      repository.Handle
	policy    policy.Policy
	rules     *policy.Engine
	evaluator *logic.Evaluator
	engine    *engine.Engine
	telemetry *telemetry.Telemetry
}

// loadRuntime parses the topology, builds repository handles and wires the
// lifecycle engine. The returned context carries telemetry. Callers must
// call close.
func loadRuntime(ctx context.Context, metrics bool) (context.Context, *runtime, error) {
	path := viper.GetString(keyConfig)
	topology, err := config.NewCUEParser().Load(ctx, path)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to load topology %s: %w", path, err)
	}

	rt := &runtime{topology: topology}
	ok := false
	defer func() {
		if !ok {
			rt.close(context.Background())
		}
	}()

	rt.telemetry, err = telemetry.NewTelemetry(telemetryConfig(metrics))
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	ctx = rt.telemetry.WithContext(ctx)
	if viper.GetBool(keyVerbose) {
		rt.telemetry.Events.Subscribe(func(event telemetry.Event) {
			log.Debug().Str("type", event.Type).Str("operation_id", event.OperationID).Msg(event.Message)
		}, nil)
	}

	rt.handles, err = config.Build(ctx, topology, log.Logger)
	if err != nil {
		return ctx, nil, err
	}

	name := viper.GetString(keyRepository)
	if name == "" {
		rt.repo = rt.handles.Default()
	} else if rt.repo, err = rt.handles.Get(name); err != nil {
		return ctx, nil, newUsageError("%v", err)
	}

	rt.policy, err = selectPolicy(topology.Policy)
	if err != nil {
		return ctx, nil, err
	}

	rt.rules, err = policy.NewEngine(log.Logger)
	if err != nil {
		return ctx, nil, fmt.Errorf("failed to create rule engine: %w", err)
	}
	if paths := topology.Rules.Paths; len(paths) > 0 {
		if topology.Rules.Watch {
			err = rt.rules.Watch(ctx, paths)
		} else {
			err = rt.rules.LoadRules(ctx, paths)
		}
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to load rules: %w", err)
		}
	}

	timeout, err := topology.Logic.RunTimeout()
	if err != nil {
		return ctx, nil, err
	}
	var logicOpts []logic.Option
	if timeout > 0 {
		logicOpts = append(logicOpts, logic.WithTimeout(timeout))
	}
	if topology.Logic.MaxSteps > 0 {
		logicOpts = append(logicOpts, logic.WithMaxSteps(topology.Logic.MaxSteps))
	}
	rt.evaluator = logic.NewEvaluator(log.Logger, logicOpts...)

	engineOpts := []engine.Option{
		engine.WithLogger(log.Logger),
		engine.WithRuleEvaluator(rt.rules),
		engine.WithEvaluator(rt.evaluator),
	}
	if script := topology.Logic.VersionConvention; script != "" {
		convention, err := logic.LoadScriptConvention(rt.evaluator, script)
		if err != nil {
			return ctx, nil, err
		}
		engineOpts = append(engineOpts, engine.WithVersionConvention(convention))
	}
	rt.engine = engine.New(rt.repo, engineOpts...)

	log.Debug().
		Str("repository", rt.repo.Name()).
		Str("version_behavior", string(rt.policy.VersionBehavior)).
		Str("experimental_behavior", string(rt.policy.ExperimentalBehavior)).
		Msg("Runtime ready")

	ok = true
	return ctx, rt, nil
}

func (rt *runtime) close(ctx context.Context) {
	var errs []error
	if rt.rules != nil {
		errs = append(errs, rt.rules.Close())
	}
	if rt.handles != nil {
		errs = append(errs, rt.handles.Close())
	}
	if rt.telemetry != nil {
		errs = append(errs, rt.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		log.Warn().Err(err).Msg("Shutdown incomplete")
	}
}

// selectPolicy starts from the topology policy and applies flag or
// environment overrides.
func selectPolicy(base config.PolicyConfig) (policy.Policy, error) {
	if v := viper.GetString(keyVersionBehavior); v != "" {
		base.VersionBehavior = v
	}
	if v := viper.GetString(keyExperimentalBehavior); v != "" {
		base.ExperimentalBehavior = v
	}
	if v := viper.GetString(keyUnknownStatus); v != "" {
		base.UnknownStatus = v
	}
	if viper.GetBool(keyAllowMultiple) {
		base.AllowMultipleVersions = true
	}
	pol, err := base.ToPolicy()
	if err != nil {
		return policy.Policy{}, newUsageError("invalid policy: %v", err)
	}
	return pol, nil
}

// telemetryConfig keeps stdout free for command output: logs go to stderr
// and traces are exported only when an OTLP endpoint is configured.
func telemetryConfig(metrics bool) *telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Output = "stderr"
	cfg.Metrics.Enabled = metrics
	cfg.Tracing.Enabled = false
	if endpoint := viper.GetString(keyOTLPEndpoint); endpoint != "" {
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = "otlp"
		cfg.Tracing.Endpoint = endpoint
	}
	return cfg
}
