package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of one
// curator process.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryKey struct{}

type operationKey struct{}

// operationState travels in the context of a running lifecycle operation.
type operationState struct {
	id    string
	span  trace.Span
	timer *Timer
}

// NewTelemetry validates cfg and builds every component.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}

	return &Telemetry{
		Logger:  logger,
		Tracer:  tracer,
		Metrics: metrics,
		Events:  events,
		Config:  cfg,
	}, nil
}

// WithContext returns ctx carrying t and its logger.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	ctx = context.WithValue(ctx, telemetryKey{}, t)
	zl := t.Logger.Zerolog()
	return zl.WithContext(ctx)
}

// FromTelemetryContext returns the Telemetry carried by ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// MetricsFromContext returns the metrics collector carried by ctx. The
// result may be nil; every Metrics recorder tolerates a nil receiver.
func MetricsFromContext(ctx context.Context) *Metrics {
	if t := FromTelemetryContext(ctx); t != nil {
		return t.Metrics
	}
	return nil
}

// EventsFromContext returns the event publisher carried by ctx, or nil.
func EventsFromContext(ctx context.Context) *EventPublisher {
	if t := FromTelemetryContext(ctx); t != nil {
		return t.Events
	}
	return nil
}

// Shutdown drains events, flushes spans and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.Logger.Close(),
	)
}

// StartMetricsServer serves metrics on the configured listen address.
func (t *Telemetry) StartMetricsServer() (*http.Server, error) {
	return t.Metrics.StartMetricsServer()
}

// WithOperationContext opens the span, log fields, metrics and start event
// of a lifecycle operation. Pair it with EndOperationContext.
func WithOperationContext(ctx context.Context, operationID, operation, root string) context.Context {
	state := &operationState{id: operationID, timer: NewTimer()}
	t := FromTelemetryContext(ctx)
	if t == nil {
		return context.WithValue(ctx, operationKey{}, state)
	}

	ctx, state.span = t.Tracer.StartOperationSpan(ctx, operationID, operation, root)
	ctx = withOperationLogger(ctx, t.Logger.Zerolog(), operationID, operation, root)

	t.Metrics.RecordOperationStarted(operation)
	_ = t.Events.PublishOperationStarted(operationID, operation, root)

	return context.WithValue(ctx, operationKey{}, state)
}

// OperationIDFromContext returns the id set by WithOperationContext, or "".
func OperationIDFromContext(ctx context.Context) string {
	if state, ok := ctx.Value(operationKey{}).(*operationState); ok {
		return state.id
	}
	return ""
}

// EndOperationContext closes what WithOperationContext opened.
func EndOperationContext(ctx context.Context, operationID, operation, root string, written int, err error) {
	t := FromTelemetryContext(ctx)
	state, _ := ctx.Value(operationKey{}).(*operationState)
	if t == nil || state == nil {
		return
	}

	if state.span != nil {
		endSpan(state.span, err)
	}
	duration := state.timer.Duration()

	if err != nil {
		t.Metrics.RecordOperationCompleted(operation, "failed", duration)
		_ = t.Events.PublishOperationFailed(operationID, operation, root, err.Error())
		return
	}
	t.Metrics.RecordOperationCompleted(operation, "succeeded", duration)
	_ = t.Events.PublishOperationCompleted(operationID, operation, root, written, duration)
}

// RecordRepositoryOperation runs fn inside a repository span and records its
// duration. classify maps a failure to the kind label of the error counter.
func RecordRepositoryOperation(ctx context.Context, repository, call string, classify func(error) string, fn func(context.Context) error) error {
	t := FromTelemetryContext(ctx)
	if t == nil {
		return fn(ctx)
	}

	ctx, span := t.Tracer.StartRepositorySpan(ctx, repository, call)
	start := time.Now()
	err := fn(ctx)
	endSpan(span, err)

	t.Metrics.RecordRepositoryCall(repository, call, time.Since(start))
	if err != nil {
		kind := "unknown"
		if classify != nil {
			kind = classify(err)
		}
		t.Metrics.RecordRepositoryError(repository, call, kind)
	}
	return err
}
