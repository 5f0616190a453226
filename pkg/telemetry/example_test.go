package telemetry_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/curator-health/curator/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
)

func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	telemetry.FromContext(ctx).Info().Msg("curator started")
}

func Example_componentLogger() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.Component("engine")
	logger.Debug().Str("artifact", "http://example.org/Library/lib-a|1.0.0").Msg("Resolving dependency graph")
	logger.Error().Err(errors.New("repository timeout")).Msg("Release failed")
}

func Example_spans() {
	cfg := telemetry.DevelopmentConfig()
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())
	ctx, span := tel.Tracer.StartOperationSpan(ctx, "op-1", "release", "http://example.org/Library/lib-a")
	defer span.End()
	span.SetAttributes(attribute.Int("plan.size", 3))

	_, child := tel.Tracer.StartRepositorySpan(ctx, "local", "read")
	child.End()
}

func Example_operationContext() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.Async = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	root := "http://example.org/Library/lib-a|1.0.0-draft"
	ctx = telemetry.WithOperationContext(ctx, "op-42", "release", root)

	err := telemetry.RecordRepositoryOperation(ctx, "local", "write", nil, func(context.Context) error {
		return nil
	})

	telemetry.EndOperationContext(ctx, "op-42", "release", root, 1, err)

	fmt.Println(telemetry.OperationIDFromContext(ctx))
	// Output: op-42
}

func Example_eventSubscription() {
	publisher, _ := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	defer publisher.Shutdown(context.Background())

	done := make(chan telemetry.Event, 1)
	publisher.Subscribe(func(e telemetry.Event) {
		done <- e
	}, telemetry.FilterByType(telemetry.EventTypeOperationFailed))

	_ = publisher.PublishOperationStarted("op-1", "draft", "http://example.org/Library/lib-a")
	_ = publisher.PublishOperationFailed("op-1", "draft", "http://example.org/Library/lib-a", "root is retired")

	e := <-done
	fmt.Println(e.Type, e.OperationID)
	// Output: operation.failed op-1
}
