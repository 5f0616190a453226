package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger is the process logger built from LoggingConfig. Library packages
// take a zerolog.Logger; Zerolog hands them one.
type Logger struct {
	zl     zerolog.Logger
	closer io.Closer
}

// NewLogger builds a logger writing to cfg.Output.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var (
		out    io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.Output, err)
		}
		out, closer = f, f
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Caller {
		zctx = zctx.Caller()
	}
	zl := zctx.Logger()
	if s := cfg.Sampling; s != nil {
		zl = zl.Sample(&zerolog.BurstSampler{
			Burst:       s.Burst,
			Period:      time.Second,
			NextSampler: &zerolog.BasicSampler{N: s.Every},
		})
	}

	return &Logger{zl: zl, closer: closer}, nil
}

// Zerolog returns the underlying logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zl
}

// Component returns a logger tagged with a component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zl.With().Str("component", name).Logger()
}

// Close releases the log file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// FromContext returns the logger attached to ctx, falling back to the
// global logger.
func FromContext(ctx context.Context) *zerolog.Logger {
	if zl := zerolog.Ctx(ctx); zl.GetLevel() != zerolog.Disabled {
		return zl
	}
	return &log.Logger
}

// withOperationLogger attaches a logger carrying the operation fields.
func withOperationLogger(ctx context.Context, base zerolog.Logger, operationID, operation, root string) context.Context {
	zl := base.With().
		Str("operation_id", operationID).
		Str("operation", operation).
		Str("artifact", root).
		Logger()
	return zl.WithContext(ctx)
}
