package repository

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/stores"
)

func newLocal(t *testing.T, name string) *Local {
	t.Helper()
	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:", Actor: "test"})
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return NewLocal(name, store, zerolog.Nop())
}

func lib(url, version string, status artifact.Status) artifact.Node {
	return artifact.Node{
		Reference: artifact.NewReference(url, version, "Library"),
		Status:    status,
		Title:     "Library " + version,
	}
}

// handleContract runs the write/read semantics every writable handle shares.
func handleContract(t *testing.T, h Handle) {
	ctx := context.Background()

	created, err := h.Write(ctx, lib("http://x/Library/a", "1.0.0", artifact.StatusActive))
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, int64(1), created.Revision)
	assert.Equal(t, h.Name(), created.Source)

	_, err = h.Write(ctx, lib("http://x/Library/a", "1.0.0", artifact.StatusActive))
	assert.True(t, artifact.IsConflict(err), "duplicate create must conflict: %v", err)

	_, err = h.Write(ctx, lib("http://x/Library/a", "1.1.0-draft", artifact.StatusDraft))
	require.NoError(t, err)
	_, err = h.Write(ctx, lib("http://x/Library/a", "0.9.0", artifact.StatusActive))
	require.NoError(t, err)

	current, err := h.Read(ctx, artifact.Reference{URL: "http://x/Library/a"})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", current.Reference.Version, "highest active version wins over a newer draft")

	update := current
	update.Title = "renamed"
	updated, err := h.Write(ctx, update)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Revision)
	assert.Equal(t, current.ID, updated.ID)

	_, err = h.Write(ctx, update)
	assert.True(t, artifact.IsConflict(err), "stale revision must conflict: %v", err)

	_, err = h.Read(ctx, artifact.NewReference("http://x/Library/missing", "1.0.0", ""))
	assert.True(t, artifact.IsNotFound(err))

	it, err := h.Search(ctx, Query{URL: "http://x/Library/a", PageSize: 2})
	require.NoError(t, err)
	nodes, err := it.Collect()
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}

func TestLocalHandle(t *testing.T) {
	handleContract(t, newLocal(t, "local"))
}

func TestMemoryHandle(t *testing.T) {
	handleContract(t, NewMemory("memory"))
}

func TestRESTHandleAgainstServer(t *testing.T) {
	srv := httptest.NewServer(NewServer(newLocal(t, "backing"), zerolog.Nop()))
	defer srv.Close()

	cfg := DefaultRESTConfig("remote", srv.URL)
	rest, err := NewREST(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer rest.Close()

	handleContract(t, rest)
}

func TestLocalPreservesRelationshipsAndApprovals(t *testing.T) {
	h := newLocal(t, "local")
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	node := lib("http://x/Library/a", "1.0.0", artifact.StatusActive)
	node.Date = &now
	node.EffectivePeriod = &artifact.Period{Start: &now}
	node.Relationships = []artifact.Relationship{
		{Kind: artifact.RelationshipDependsOn, Target: artifact.NewReference("http://x/Library/b", "2.0.0", "Library")},
		{Kind: artifact.RelationshipComposedOf, Target: artifact.NewReference("http://x/ValueSet/c", "", "ValueSet"), Owned: true},
	}
	node.Approvals = []artifact.Approval{{ID: "a1", Date: now, Type: "comment", Author: "reviewer"}}

	_, err := h.Write(ctx, node)
	require.NoError(t, err)

	got, err := h.Read(ctx, node.Reference)
	require.NoError(t, err)
	assert.Equal(t, node.Relationships, got.Relationships)
	require.Len(t, got.Approvals, 1)
	assert.Equal(t, "reviewer", got.Approvals[0].Author)
	require.NotNil(t, got.EffectivePeriod)
	assert.True(t, now.Equal(*got.EffectivePeriod.Start))
}

func TestRESTRetriesTransientReads(t *testing.T) {
	backing := NewMemory("backing")
	_, err := backing.Write(context.Background(), lib("http://x/Library/a", "1.0.0", artifact.StatusActive))
	require.NoError(t, err)

	var calls atomic.Int32
	inner := NewServer(backing, zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	cfg := DefaultRESTConfig("remote", srv.URL)
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 5 * time.Millisecond
	rest, err := NewREST(cfg, zerolog.Nop())
	require.NoError(t, err)

	node, err := rest.Read(context.Background(), artifact.NewReference("http://x/Library/a", "1.0.0", ""))
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", node.Reference.Version)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRESTNeverRetriesWrites(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := DefaultRESTConfig("remote", srv.URL)
	cfg.InitialInterval = time.Millisecond
	rest, err := NewREST(cfg, zerolog.Nop())
	require.NoError(t, err)

	_, err = rest.Write(context.Background(), lib("http://x/Library/a", "1.0.0", artifact.StatusActive))
	require.Error(t, err)
	assert.True(t, artifact.IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestRESTDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	inner := NewServer(NewMemory("backing"), zerolog.Nop())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		inner.ServeHTTP(w, r)
	}))
	defer srv.Close()

	rest, err := NewREST(DefaultRESTConfig("remote", srv.URL), zerolog.Nop())
	require.NoError(t, err)

	_, err = rest.Read(context.Background(), artifact.NewReference("http://x/Library/none", "1.0.0", ""))
	assert.True(t, artifact.IsNotFound(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestProxyRewritesBothDirections(t *testing.T) {
	backing := NewMemory("backing")
	ctx := context.Background()
	node := lib("http://internal/Library/a", "1.0.0", artifact.StatusActive)
	node.Relationships = []artifact.Relationship{
		{Kind: artifact.RelationshipDependsOn, Target: artifact.NewReference("http://internal/Library/b", "1.0.0", "")},
	}
	_, err := backing.Write(ctx, node)
	require.NoError(t, err)

	proxy := NewProxy("public", backing, Rewrite{From: "http://public/", To: "http://internal/"})

	got, err := proxy.Read(ctx, artifact.NewReference("http://public/Library/a", "1.0.0", ""))
	require.NoError(t, err)
	assert.Equal(t, "http://public/Library/a", got.Reference.URL)
	assert.Equal(t, "http://public/Library/b", got.Relationships[0].Target.URL)
	assert.Equal(t, "public", got.Source)

	written, err := proxy.Write(ctx, lib("http://public/Library/c", "1.0.0", artifact.StatusDraft))
	require.NoError(t, err)
	assert.Equal(t, "http://public/Library/c", written.Reference.URL)
	_, err = backing.Read(ctx, artifact.NewReference("http://internal/Library/c", "1.0.0", ""))
	require.NoError(t, err)

	_, err = proxy.Read(ctx, artifact.NewReference("http://public/Library/missing", "1.0.0", ""))
	var e *artifact.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "http://public/Library/missing", e.Reference.URL)

	it, err := proxy.Search(ctx, Query{URL: "http://public/Library/a"})
	require.NoError(t, err)
	nodes, err := it.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "http://public/Library/a", nodes[0].Reference.URL)
}

// wrappingHandle adds context around the errors of its reads.
type wrappingHandle struct {
	*Memory
}

func (h wrappingHandle) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	node, err := h.Memory.Read(ctx, ref)
	if err != nil {
		return artifact.Node{}, fmt.Errorf("shard 3: %w", err)
	}
	return node, nil
}

func TestProxyKeepsWrappedContext(t *testing.T) {
	proxy := NewProxy("public", wrappingHandle{NewMemory("backing")}, Rewrite{From: "http://public/", To: "http://internal/"})

	_, err := proxy.Read(context.Background(), artifact.NewReference("http://public/Library/missing", "1.0.0", ""))
	require.Error(t, err)
	assert.True(t, artifact.IsNotFound(err))
	assert.Contains(t, err.Error(), "shard 3: ")
	assert.Contains(t, err.Error(), "http://public/Library/missing")
	assert.NotContains(t, err.Error(), "http://internal/")

	var e *artifact.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "http://public/Library/missing", e.Reference.URL)
}

func TestFederatedSearchReportsOneAmbiguity(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory("primary")
	secondary := NewMemory("secondary")

	a := lib("http://x/Library/a", "1.0.0", artifact.StatusActive)
	_, err := primary.Write(ctx, a)
	require.NoError(t, err)

	changed := a
	changed.Title = "different"
	_, err = secondary.Write(ctx, changed)
	require.NoError(t, err)
	_, err = secondary.Write(ctx, lib("http://x/Library/b", "1.0.0", artifact.StatusActive))
	require.NoError(t, err)

	var mu sync.Mutex
	var reports []string
	fed := NewFederated("all", []Member{{Handle: primary}, {Handle: secondary}},
		WithAmbiguityReporter(func(_ context.Context, key string, members []string) {
			mu.Lock()
			defer mu.Unlock()
			reports = append(reports, key)
			assert.Equal(t, []string{"primary", "secondary"}, members)
		}))

	it, err := fed.Search(ctx, Query{})
	require.NoError(t, err)
	nodes, err := it.Collect()
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "Library 1.0.0", nodes[0].Title, "higher-priority copy kept")
	assert.Equal(t, []string{"http://x/Library/a|1.0.0"}, reports)

	got, err := fed.Read(ctx, a.Reference)
	require.NoError(t, err)
	assert.Equal(t, "primary", got.Source)
	assert.Len(t, reports, 2, "read reports the same ambiguity once")
}

func TestFederatedReadFallsThroughMembers(t *testing.T) {
	ctx := context.Background()
	primary := NewMemory("primary")
	secondary := NewMemory("secondary")
	_, err := secondary.Write(ctx, lib("http://x/Library/b", "1.0.0", artifact.StatusActive))
	require.NoError(t, err)

	fed := NewFederated("all", []Member{{Handle: primary}, {Handle: secondary}}, WithCallTimeout(time.Second))
	got, err := fed.Read(ctx, artifact.NewReference("http://x/Library/b", "1.0.0", ""))
	require.NoError(t, err)
	assert.Equal(t, "secondary", got.Source)

	_, err = fed.Read(ctx, artifact.NewReference("http://x/Library/none", "1.0.0", ""))
	assert.True(t, artifact.IsNotFound(err))
}

func TestFederatedWriteRouting(t *testing.T) {
	ctx := context.Background()
	left := NewMemory("left")
	right := NewMemory("right")
	fed := NewFederated("all", []Member{
		{Handle: left, Prefixes: []string{"http://left/"}},
		{Handle: right, Prefixes: []string{"http://right/", "http://shared/"}},
	})

	written, err := fed.Write(ctx, lib("http://left/Library/a", "1.0.0", artifact.StatusDraft))
	require.NoError(t, err)
	assert.Equal(t, "left", written.Source)
	assert.Equal(t, 1, left.Len())

	sourced := lib("http://elsewhere/Library/b", "1.0.0", artifact.StatusDraft)
	sourced.Source = "right"
	_, err = fed.Write(ctx, sourced)
	require.NoError(t, err)
	assert.Equal(t, 1, right.Len())

	_, err = fed.Write(ctx, lib("http://nowhere/Library/c", "1.0.0", artifact.StatusDraft))
	assert.ErrorIs(t, err, artifact.ErrAmbiguousTarget)
}

func TestFacadeTimeout(t *testing.T) {
	slow := &slowHandle{Memory: NewMemory("slow"), delay: 200 * time.Millisecond}
	f := New(slow, WithTimeout(10*time.Millisecond))

	_, err := f.Read(context.Background(), artifact.NewReference("http://x/a", "1.0.0", ""))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "slow", f.Name())
}

type slowHandle struct {
	*Memory
	delay time.Duration
}

func (s *slowHandle) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	select {
	case <-time.After(s.delay):
		return s.Memory.Read(ctx, ref)
	case <-ctx.Done():
		return artifact.Node{}, ctx.Err()
	}
}

func TestCurrentVersion(t *testing.T) {
	tests := []struct {
		name  string
		infos []stores.VersionInfo
		want  string
	}{
		{
			name: "highest active wins",
			infos: []stores.VersionInfo{
				{Version: "1.10.0", Status: "active"},
				{Version: "1.9.0", Status: "active"},
				{Version: "2.0.0-draft", Status: "draft"},
			},
			want: "1.10.0",
		},
		{
			name: "release sorts above its draft",
			infos: []stores.VersionInfo{
				{Version: "1.0.0-draft", Status: "draft"},
				{Version: "1.0.0", Status: "retired"},
			},
			want: "1.0.0",
		},
		{
			name: "semver sorts above free-form",
			infos: []stores.VersionInfo{
				{Version: "1.0.0", Status: "draft"},
				{Version: "september", Status: "draft"},
			},
			want: "1.0.0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CurrentVersion(tt.infos)
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := CurrentVersion(nil)
	assert.False(t, ok)
}
