package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/telemetry"
)

// Option configures a Facade.
type Option func(*Facade)

// WithTimeout bounds every Read and Write. Paged searches are bounded by the
// caller's context only, since their pages load after Search returns.
func WithTimeout(d time.Duration) Option {
	return func(f *Facade) {
		f.timeout = d
	}
}

// WithLogger sets the facade logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(f *Facade) {
		f.logger = logger
	}
}

// Facade wraps a handle with logging, metrics, tracing and call timeouts.
// Telemetry is taken from the call context.
type Facade struct {
	inner   Handle
	timeout time.Duration
	logger  zerolog.Logger
}

// New wraps inner.
func New(inner Handle, opts ...Option) *Facade {
	f := &Facade{
		inner:  inner,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With().Str("component", "repository").Str("repository", inner.Name()).Logger()
	return f
}

// Name implements Handle.
func (f *Facade) Name() string {
	return f.inner.Name()
}

// Unwrap returns the wrapped handle.
func (f *Facade) Unwrap() Handle {
	return f.inner
}

// Read implements Reader.
func (f *Facade) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	var node artifact.Node
	err := telemetry.RecordRepositoryOperation(ctx, f.Name(), "read", classify, func(ctx context.Context) error {
		var err error
		node, err = f.inner.Read(ctx, ref)
		return err
	})
	if err != nil {
		f.logFailure("read", ref, err)
		return artifact.Node{}, err
	}
	f.logger.Debug().Str("artifact", node.Key()).Msg("artifact read")
	return node, nil
}

// Search implements Searcher.
func (f *Facade) Search(ctx context.Context, q Query) (*Iterator, error) {
	var it *Iterator
	err := telemetry.RecordRepositoryOperation(ctx, f.Name(), "search", classify, func(ctx context.Context) error {
		var err error
		it, err = f.inner.Search(ctx, q)
		return err
	})
	if err != nil {
		f.logFailure("search", artifact.Reference{URL: q.URL, Version: q.Version}, err)
		return nil, err
	}
	return it, nil
}

// Write implements Writer.
func (f *Facade) Write(ctx context.Context, node artifact.Node) (artifact.Node, error) {
	ctx, cancel := f.withTimeout(ctx)
	defer cancel()

	var committed artifact.Node
	err := telemetry.RecordRepositoryOperation(ctx, f.Name(), "write", classify, func(ctx context.Context) error {
		var err error
		committed, err = f.inner.Write(ctx, node)
		return err
	})
	if err != nil {
		f.logFailure("write", node.Reference, err)
		return artifact.Node{}, err
	}
	f.logger.Info().
		Str("artifact", committed.Key()).
		Str("status", string(committed.Status)).
		Int64("revision", committed.Revision).
		Msg("artifact committed")
	return committed, nil
}

func (f *Facade) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, f.timeout)
}

func (f *Facade) logFailure(op string, ref artifact.Reference, err error) {
	event := f.logger.Warn()
	if artifact.IsNotFound(err) {
		event = f.logger.Debug()
	}
	event.Err(err).Str("operation", op).Str("artifact", ref.Key()).Msg("repository call failed")
}

func classify(err error) string {
	if kind, ok := artifact.KindOf(err); ok {
		return string(kind)
	}
	if err == context.Canceled || err == context.DeadlineExceeded {
		return "canceled"
	}
	return "unknown"
}
