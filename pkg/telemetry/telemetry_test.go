package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTelemetry(t *testing.T) *Telemetry {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Tracing.Exporter = "none"
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = "error"
	cfg.Events.Async = false

	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })
	return tel
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Exporter = "jaeger"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 1.5
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Exporter = "otlp"
	assert.Error(t, cfg.Validate(), "otlp needs an endpoint")

	assert.NoError(t, ProductionConfig("collector:4317").Validate())
	assert.NoError(t, DevelopmentConfig().Validate())
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordOperationStarted("draft")
		m.RecordOperationCompleted("draft", "succeeded", time.Second)
		m.RecordRepositoryCall("local", "read", time.Millisecond)
		m.RecordRepositoryError("local", "read", "not_found")
		m.RecordResolverVisit("resolved")
		m.RecordDiffCacheLookup(true)
		m.RecordError("conflict")
	})
	assert.Nil(t, m.Registry())
}

func TestRecordRepositoryOperation(t *testing.T) {
	tel := testTelemetry(t)
	ctx := tel.WithContext(context.Background())

	require.NoError(t, RecordRepositoryOperation(ctx, "local", "read", nil, func(context.Context) error {
		return nil
	}))

	boom := errors.New("boom")
	err := RecordRepositoryOperation(ctx, "local", "read", func(error) string { return "repository" }, func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, 2.0, testutil.ToFloat64(tel.Metrics.repositoryCalls.WithLabelValues("local", "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.repositoryErrors.WithLabelValues("local", "read", "repository")))
}

func TestRecordRepositoryOperationWithoutTelemetry(t *testing.T) {
	called := false
	err := RecordRepositoryOperation(context.Background(), "local", "search", nil, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestOperationContextLifecycle(t *testing.T) {
	tel := testTelemetry(t)

	events := make(chan Event, 4)
	tel.Events.Subscribe(func(e Event) { events <- e }, FilterByOperationID("op-7"))

	ctx := tel.WithContext(context.Background())
	ctx = WithOperationContext(ctx, "op-7", "approve", "http://x/lib|1.0.0")
	assert.Equal(t, "op-7", OperationIDFromContext(ctx))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.activeOperations))

	EndOperationContext(ctx, "op-7", "approve", "http://x/lib|1.0.0", 1, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(tel.Metrics.activeOperations))
	assert.Equal(t, 1.0, testutil.ToFloat64(tel.Metrics.operationsCompleted.WithLabelValues("approve", "succeeded")))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case e := <-events:
			seen[e.Type] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for events")
		}
	}
	assert.True(t, seen[EventTypeOperationStarted])
	assert.True(t, seen[EventTypeOperationCompleted])
}

func TestDisabledPublisherDropsEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, ep.PublishPolicyWarning("op", "http://x/lib|1.0.0", "experimental", "experimental dependency"))
	assert.NoError(t, ep.Shutdown(context.Background()))

	var nilPublisher *EventPublisher
	assert.NoError(t, nilPublisher.Publish(Event{Type: EventTypeOperationFailed}))
}

func TestEventFilters(t *testing.T) {
	warn := Event{Type: EventTypePolicyWarning, Level: EventLevelWarning, Artifact: "a|1"}
	info := Event{Type: EventTypeOperationStarted, Level: EventLevelInfo, Artifact: "b|1"}

	assert.True(t, FilterByLevel(EventLevelWarning)(warn))
	assert.False(t, FilterByLevel(EventLevelWarning)(info))
	assert.True(t, FilterByArtifact("a|1")(warn))
	assert.False(t, FilterByArtifact("a|1")(info))
}

func TestAsyncPublisherDeliversInOrder(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 8, Async: true})
	require.NoError(t, err)

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.OperationID) }, nil)

	for _, id := range []string{"op-1", "op-2", "op-3"} {
		require.NoError(t, ep.PublishOperationStarted(id, "draft", "http://x/lib"))
	}
	require.NoError(t, ep.Shutdown(context.Background()))

	assert.Equal(t, []string{"op-1", "op-2", "op-3"}, got)
	assert.Error(t, ep.Publish(Event{Type: EventTypeOperationStarted}), "publish after shutdown")
}

func TestAsyncPublisherRequiresBuffer(t *testing.T) {
	_, err := NewEventPublisher(EventsConfig{Enabled: true, Async: true})
	assert.Error(t, err)
}

func TestPublishStampsEvents(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	require.NoError(t, err)

	var got Event
	ep.Subscribe(func(e Event) { got = e }, FilterByType(EventTypeAmbiguousArtifact))
	require.NoError(t, ep.PublishAmbiguousArtifact("all", "http://x/lib|1.0.0", []string{"local", "mirror"}))

	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, EventLevelWarning, got.Level)
	assert.Equal(t, "all", got.Repository)
}

func TestFromContextFallsBackToGlobalLogger(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tel := testTelemetry(t)
	ctx := WithOperationContext(tel.WithContext(context.Background()), "op-9", "draft", "http://x/lib|1.0.0")
	logger := FromContext(ctx)
	assert.Equal(t, zerolog.ErrorLevel, logger.GetLevel())
}
