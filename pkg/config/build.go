package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/curator-health/curator/pkg/repository"
	"github.com/curator-health/curator/pkg/stores"
	"github.com/curator-health/curator/pkg/telemetry"
)

// Handles holds the repository handles built from a topology. Every handle
// is wrapped in a repository.Facade.
type Handles struct {
	byName  map[string]repository.Handle
	def     string
	closers []io.Closer
	stores  map[string]*stores.SQLiteStore
}

// Get returns the handle named name.
func (h *Handles) Get(name string) (repository.Handle, error) {
	handle, ok := h.byName[name]
	if !ok {
		return nil, fmt.Errorf("repository %q is not configured", name)
	}
	return handle, nil
}

// Default returns the handle lifecycle operations use.
func (h *Handles) Default() repository.Handle {
	return h.byName[h.def]
}

// Names returns the configured handle names, sorted.
func (h *Handles) Names() []string {
	names := make([]string, 0, len(h.byName))
	for name := range h.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store returns the SQLite store behind the local repository name.
func (h *Handles) Store(name string) (*stores.SQLiteStore, bool) {
	s, ok := h.stores[name]
	return s, ok
}

// Close releases stores and transports in reverse build order.
func (h *Handles) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build creates every repository handle of t. Local stores are opened and
// migrated. On error everything built so far is closed.
func Build(ctx context.Context, t *Topology, logger zerolog.Logger) (*Handles, error) {
	if errs := checkReferences(t); len(errs) > 0 {
		return nil, &Errors{List: errs}
	}

	b := &builder{
		ctx:     ctx,
		logger:  logger,
		configs: make(map[string]RepositoryConfig, len(t.Repositories)),
		handles: &Handles{
			byName: make(map[string]repository.Handle, len(t.Repositories)),
			def:    t.Default,
			stores: make(map[string]*stores.SQLiteStore),
		},
	}
	for _, r := range t.Repositories {
		b.configs[r.Name] = r
	}

	for _, r := range t.Repositories {
		if _, err := b.build(r.Name); err != nil {
			_ = b.handles.Close()
			return nil, err
		}
	}

	logger.Info().
		Strs("repositories", b.handles.Names()).
		Str("default", t.Default).
		Msg("Repositories configured")

	return b.handles, nil
}

type builder struct {
	ctx     context.Context
	logger  zerolog.Logger
	configs map[string]RepositoryConfig
	handles *Handles
}

// build creates name and, first, everything it references.
func (b *builder) build(name string) (repository.Handle, error) {
	if h, ok := b.handles.byName[name]; ok {
		return h, nil
	}
	cfg := b.configs[name]

	timeout, err := cfg.CallTimeout()
	if err != nil {
		return nil, err
	}

	var raw repository.Handle
	switch cfg.Kind {
	case KindLocal:
		raw, err = b.buildLocal(cfg)
	case KindREST:
		raw, err = b.buildREST(cfg, timeout)
	case KindProxy:
		var inner repository.Handle
		if inner, err = b.build(cfg.Inner); err == nil {
			raw = repository.NewProxy(cfg.Name, inner, cfg.Rewrites...)
		}
	case KindFederated:
		raw, err = b.buildFederated(cfg, timeout)
	default:
		err = fmt.Errorf("repository %s: unknown kind %q", cfg.Name, cfg.Kind)
	}
	if err != nil {
		return nil, err
	}

	h := repository.New(raw, repository.WithTimeout(timeout), repository.WithLogger(b.logger))
	b.handles.byName[name] = h
	return h, nil
}

func (b *builder) buildLocal(cfg RepositoryConfig) (repository.Handle, error) {
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Path, Actor: "curator"})
	if err != nil {
		return nil, fmt.Errorf("repository %s: failed to open store: %w", cfg.Name, err)
	}
	b.handles.closers = append(b.handles.closers, store)

	if err := store.Init(b.ctx); err != nil {
		return nil, fmt.Errorf("repository %s: failed to initialize store: %w", cfg.Name, err)
	}
	if err := store.Migrate(b.ctx); err != nil {
		return nil, fmt.Errorf("repository %s: failed to migrate store: %w", cfg.Name, err)
	}

	b.handles.stores[cfg.Name] = store
	return repository.NewLocal(cfg.Name, store, b.logger), nil
}

func (b *builder) buildREST(cfg RepositoryConfig, timeout time.Duration) (repository.Handle, error) {
	restCfg := repository.DefaultRESTConfig(cfg.Name, cfg.URL)
	if timeout > 0 {
		restCfg.Timeout = timeout
	}
	if cfg.MaxAttempts > 0 {
		restCfg.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.Token != "" {
		restCfg.Headers = map[string]string{"Authorization": "Bearer " + cfg.Token}
	}

	rest, err := repository.NewREST(restCfg, b.logger)
	if err != nil {
		return nil, fmt.Errorf("repository %s: %w", cfg.Name, err)
	}
	b.handles.closers = append(b.handles.closers, rest)
	return rest, nil
}

func (b *builder) buildFederated(cfg RepositoryConfig, timeout time.Duration) (repository.Handle, error) {
	members := make([]repository.Member, 0, len(cfg.Members))
	for _, m := range cfg.Members {
		h, err := b.build(m.Name)
		if err != nil {
			return nil, err
		}
		members = append(members, repository.Member{Handle: h, Prefixes: m.Prefixes})
	}

	opts := []repository.FederatedOption{
		repository.WithFederatedLogger(b.logger),
		repository.WithAmbiguityReporter(func(ctx context.Context, key string, names []string) {
			telemetry.MetricsFromContext(ctx).RecordFederatedAmbiguity()
			_ = telemetry.EventsFromContext(ctx).PublishAmbiguousArtifact(cfg.Name, key, names)
		}),
	}
	if timeout > 0 {
		opts = append(opts, repository.WithCallTimeout(timeout))
	}
	return repository.NewFederated(cfg.Name, members, opts...), nil
}
