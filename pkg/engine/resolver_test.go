package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/repository"
)

func lib(url, version string, status artifact.Status, rels ...artifact.Relationship) artifact.Node {
	return artifact.Node{
		Reference:     artifact.NewReference(url, version, "Library"),
		Status:        status,
		Title:         "Library " + url,
		Relationships: rels,
	}
}

func dependsOn(url, version string) artifact.Relationship {
	return artifact.Relationship{
		Kind:   artifact.RelationshipDependsOn,
		Target: artifact.NewReference(url, version, "Library"),
	}
}

func composedOf(url, version string) artifact.Relationship {
	return artifact.Relationship{
		Kind:   artifact.RelationshipComposedOf,
		Target: artifact.NewReference(url, version, "Library"),
		Owned:  true,
	}
}

// fataler is the subset of testing.TB that rapid.T also implements.
type fataler interface {
	Helper()
	Fatalf(format string, args ...any)
}

func seed(t fataler, repo repository.Writer, nodes ...artifact.Node) {
	t.Helper()
	for _, n := range nodes {
		if _, err := repo.Write(context.Background(), n); err != nil {
			t.Fatalf("failed to seed %s: %v", n.Reference.Canonical(), err)
		}
	}
}

func ref(url, version string) artifact.Reference {
	return artifact.NewReference(url, version, "Library")
}

func TestResolve_Closure(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo,
		lib("http://x/Library/c", "1.0.0", artifact.StatusActive),
		lib("http://x/Library/b", "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/c", "1.0.0")),
		lib("http://x/Library/a", "1.0.0", artifact.StatusActive,
			dependsOn("http://x/Library/b", "1.0.0"),
			dependsOn("http://x/Library/c", "1.0.0"),
			artifact.Relationship{Kind: artifact.RelationshipDerivedFrom, Target: ref("http://x/Library/z", "")},
		),
	)

	m, err := NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), ref("http://x/Library/a", "1.0.0"),
		ResolveOptions{Policy: policy.Default(), Strict: true})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"http://x/Library/a|1.0.0",
		"http://x/Library/b|1.0.0",
		"http://x/Library/c|1.0.0",
	}, m.Order)
	assert.True(t, m.Complete())
	assert.Len(t, m.EdgesFrom(ref("http://x/Library/a", "1.0.0")), 2, "derived-from is recorded but not followed")
	assert.Equal(t, "http://x/Library/a|1.0.0", m.RootNode().Key())
}

func TestResolve_Cycle(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo,
		lib("http://x/Library/a", "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/b", "1.0.0")),
		lib("http://x/Library/b", "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/a", "1.0.0")),
	)

	_, err := NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), ref("http://x/Library/a", "1.0.0"),
		ResolveOptions{Policy: policy.Default()})
	require.Error(t, err)
	assert.True(t, errors.Is(err, artifact.ErrCyclicDependency))

	var aerr *artifact.Error
	require.True(t, errors.As(err, &aerr))
	assert.Equal(t, []string{
		"http://x/Library/a|1.0.0",
		"http://x/Library/b|1.0.0",
		"http://x/Library/a|1.0.0",
	}, artifact.Keys(aerr.Path))
}

func TestResolve_MissingDependency(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo,
		lib("http://x/Library/a", "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/missing", "1.0.0")),
	)
	resolver := NewResolver(repo, zerolog.Nop())
	root := ref("http://x/Library/a", "1.0.0")

	m, err := resolver.Resolve(context.Background(), root, ResolveOptions{Policy: policy.Default()})
	require.NoError(t, err)
	require.Len(t, m.Unresolved, 1)
	assert.Equal(t, string(artifact.KindNotFound), m.Unresolved[0].Kind)
	assert.False(t, m.Complete())

	_, err = resolver.Resolve(context.Background(), root, ResolveOptions{Policy: policy.Default(), Strict: true})
	assert.True(t, errors.Is(err, artifact.ErrUnresolvedDependency))
}

func TestResolve_RootNotFound(t *testing.T) {
	_, err := NewResolver(repository.NewMemory("local"), zerolog.Nop()).
		Resolve(context.Background(), ref("http://x/Library/a", "1.0.0"), ResolveOptions{})
	assert.True(t, artifact.IsNotFound(err))
}

func TestResolve_ExperimentalBehavior(t *testing.T) {
	experimental := lib("http://x/Library/e", "1.0.0", artifact.StatusActive)
	experimental.Experimental = true

	repo := repository.NewMemory("local")
	seed(t, repo,
		experimental,
		lib("http://x/Library/a", "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/e", "1.0.0")),
	)
	root := ref("http://x/Library/a", "1.0.0")

	tests := []struct {
		behavior   policy.ExperimentalBehavior
		warnings   int
		unresolved int
	}{
		{policy.ExperimentalError, 0, 1},
		{policy.ExperimentalWarn, 1, 0},
		{policy.ExperimentalIgnore, 0, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.behavior), func(t *testing.T) {
			pol := policy.Default()
			pol.ExperimentalBehavior = tt.behavior

			m, err := NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), root, ResolveOptions{Policy: pol})
			require.NoError(t, err)
			assert.Len(t, m.Warnings, tt.warnings)
			assert.Len(t, m.Unresolved, tt.unresolved)
			if tt.unresolved > 0 {
				assert.True(t, errors.Is(m.Unresolved[0].Err, artifact.ErrPolicyViolation))
			}
		})
	}
}

func TestResolve_ForceUpdateBindsCurrentVersion(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo,
		lib("http://x/Library/b", "1.0.0", artifact.StatusActive),
		lib("http://x/Library/b", "1.2.0", artifact.StatusActive),
		lib("http://x/Library/a", "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/b", "1.0.0")),
	)

	pol := policy.Default()
	pol.VersionBehavior = policy.VersionForceUpdate
	m, err := NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), ref("http://x/Library/a", "1.0.0"),
		ResolveOptions{Policy: pol})
	require.NoError(t, err)

	edges := m.EdgesFrom(ref("http://x/Library/a", "1.0.0"))
	require.Len(t, edges, 1)
	assert.Equal(t, "1.2.0", edges[0].Bound.Version)
	assert.True(t, edges[0].Mutated)
}

func TestResolve_ConflictingVersions(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo,
		lib("http://x/Library/c", "1.0.0", artifact.StatusActive),
		lib("http://x/Library/c", "2.0.0", artifact.StatusActive),
		lib("http://x/Library/b", "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/c", "2.0.0")),
		lib("http://x/Library/a", "1.0.0", artifact.StatusActive,
			dependsOn("http://x/Library/c", "1.0.0"),
			dependsOn("http://x/Library/b", "1.0.0"),
		),
	)
	root := ref("http://x/Library/a", "1.0.0")

	m, err := NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), root, ResolveOptions{Policy: policy.Default()})
	require.NoError(t, err)
	require.Len(t, m.Unresolved, 1)
	assert.Equal(t, "http://x/Library/b|1.0.0", m.Unresolved[0].From.Key())

	pol := policy.Default()
	pol.AllowMultipleVersions = true
	m, err = NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), root, ResolveOptions{Policy: pol})
	require.NoError(t, err)
	assert.True(t, m.Complete())
	assert.Equal(t, 4, m.Len())
}

func TestResolve_Cancelled(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo, lib("http://x/Library/a", "1.0.0", artifact.StatusActive))
	root, err := repo.Read(context.Background(), ref("http://x/Library/a", "1.0.0"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewResolver(repo, zerolog.Nop()).ResolveNode(ctx, root, ResolveOptions{})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestResolve_Deterministic resolves random acyclic graphs twice and
// expects identical manifests.
func TestResolve_Deterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(1, 8).Draw(t, "size")
		repo := repository.NewMemory("local")

		url := func(i int) string { return fmt.Sprintf("http://x/Library/n%d", i) }
		for i := size - 1; i >= 0; i-- {
			var rels []artifact.Relationship
			for j := i + 1; j < size; j++ {
				if rapid.Bool().Draw(t, fmt.Sprintf("edge-%d-%d", i, j)) {
					rels = append(rels, dependsOn(url(j), "1.0.0"))
				}
			}
			seed(t, repo, lib(url(i), "1.0.0", artifact.StatusActive, rels...))
		}

		root := ref(url(0), "1.0.0")
		opts := ResolveOptions{Policy: policy.Default(), Strict: true}

		first, err := NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), root, opts)
		if err != nil {
			t.Fatalf("first resolve: %v", err)
		}
		second, err := NewResolver(repo, zerolog.Nop()).Resolve(context.Background(), root, opts)
		if err != nil {
			t.Fatalf("second resolve: %v", err)
		}

		if first.Fingerprint() != second.Fingerprint() {
			t.Fatalf("fingerprints differ: %s != %s", first.Fingerprint(), second.Fingerprint())
		}
		if fmt.Sprint(first.Order) != fmt.Sprint(second.Order) {
			t.Fatalf("order differs: %v != %v", first.Order, second.Order)
		}
	})
}
