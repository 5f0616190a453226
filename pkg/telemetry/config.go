package telemetry

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config selects how curator reports logs, traces, metrics and lifecycle
// events.
type Config struct {
	ServiceName    string `validate:"required"`
	ServiceVersion string `validate:"required"`

	// Environment is a free-form deployment label attached to traces.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `validate:"oneof=trace debug info warn error fatal"`
	Format string `validate:"oneof=console json"`

	// Output is stdout, stderr or a file path opened for appending.
	Output string `validate:"required"`

	// Caller adds file:line to each entry.
	Caller bool

	// Sampling, when set, lets Burst entries through per second and every
	// Every-th entry after that.
	Sampling *SamplingConfig
}

// SamplingConfig bounds log volume on hot paths such as federated fan-out.
type SamplingConfig struct {
	Burst uint32 `validate:"gt=0"`
	Every uint32 `validate:"gt=0"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool

	// Exporter is otlp, stdout or none. none records spans without
	// exporting them.
	Exporter string `validate:"omitempty,oneof=otlp stdout none"`

	// Endpoint is the OTLP gRPC collector address, host:port.
	Endpoint string `validate:"required_if=Exporter otlp"`

	SamplingRate  float64 `validate:"gte=0,lte=1"`
	ExportTimeout time.Duration
	Headers       map[string]string
	Insecure      bool
}

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled bool

	// ListenAddress and Path are used by StartMetricsServer. The serve
	// command mounts Handler on its own mux instead.
	ListenAddress string `validate:"required_if=Enabled true"`
	Path          string

	Namespace string
	Buckets   []float64
}

// EventsConfig configures the lifecycle event publisher.
type EventsConfig struct {
	Enabled bool

	// BufferSize bounds queued events when Async is set; Publish drops events
	// once the buffer is full.
	BufferSize int `validate:"gte=0"`

	// Async delivers events from a background goroutine instead of the
	// publishing goroutine.
	Async bool
}

// DefaultConfig logs to stderr at info, keeps tracing off and collects
// metrics in memory.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "curator",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Exporter:      "none",
			SamplingRate:  1.0,
			ExportTimeout: 30 * time.Second,
			Insecure:      true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "curator",
			Buckets:       []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		Events: EventsConfig{
			Enabled:    true,
			BufferSize: 1000,
			Async:      true,
		},
	}
}

// ProductionConfig emits json logs with sampling and exports a tenth of all
// traces over OTLP to endpoint.
func ProductionConfig(endpoint string) *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Logging.Sampling = &SamplingConfig{Burst: 100, Every: 10}
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.Endpoint = endpoint
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	return cfg
}

// DevelopmentConfig logs at debug with caller information and prints every
// span to stdout.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Caller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

var configValidator = validator.New()

// Validate reports every invalid field.
func (c *Config) Validate() error {
	err := configValidator.Struct(c)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("invalid telemetry config: %w", err)
	}
	msgs := make([]string, len(fieldErrs))
	for i, fe := range fieldErrs {
		msgs[i] = fmt.Sprintf("%s: failed %q (value %v)", strings.TrimPrefix(fe.Namespace(), "Config."), fe.Tag(), fe.Value())
	}
	return fmt.Errorf("invalid telemetry config: %s", strings.Join(msgs, "; "))
}
