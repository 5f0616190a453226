package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/repository"
)

const (
	urlA = "http://x/Library/a"
	urlB = "http://x/Library/b"
	urlC = "http://x/Library/c"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fixture seeds a root a that depends on b and owns component c.
func fixture(t *testing.T) *repository.Memory {
	t.Helper()
	repo := repository.NewMemory("local")
	seed(t, repo,
		lib(urlC, "1.0.0", artifact.StatusActive),
		lib(urlB, "1.0.0", artifact.StatusActive),
		lib(urlA, "1.0.0", artifact.StatusActive,
			dependsOn(urlB, "1.0.0"),
			composedOf(urlC, "1.0.0"),
		),
	)
	return repo
}

func newTestEngine(repo repository.Handle, opts ...Option) *Engine {
	opts = append([]Option{
		WithClock(func() time.Time { return testNow }),
		WithLogger(zerolog.Nop()),
	}, opts...)
	return New(repo, opts...)
}

// flakyRepo fails every write once armed writes have been issued.
type flakyRepo struct {
	*repository.Memory
	armed     bool
	failAfter int
	writes    int
}

var errInjected = errors.New("injected write failure")

func (f *flakyRepo) Write(ctx context.Context, node artifact.Node) (artifact.Node, error) {
	if f.armed {
		if f.writes >= f.failAfter {
			return artifact.Node{}, errInjected
		}
		f.writes++
	}
	return f.Memory.Write(ctx, node)
}

type stubEvaluator struct {
	result EvaluationResult
	err    error
	calls  []LogicReference
}

func (s *stubEvaluator) Evaluate(_ context.Context, ref LogicReference, _ map[string]interface{}) (EvaluationResult, error) {
	s.calls = append(s.calls, ref)
	return s.result, s.err
}

func keysOf(nodes []artifact.Node) []string {
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = n.Key()
	}
	return keys
}

func TestDraft(t *testing.T) {
	repo := fixture(t)
	eng := newTestEngine(repo)

	res, err := eng.Draft(context.Background(), DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.1.0"})
	require.NoError(t, err)

	assert.Equal(t, "http://x/Library/a|1.1.0-draft", res.Root.Key())
	assert.Equal(t, []string{
		"http://x/Library/c|1.1.0-draft",
		"http://x/Library/a|1.1.0-draft",
	}, keysOf(res.Committed), "owned component is written before its owner")
	assert.Equal(t, 5, repo.Len())

	draft, err := repo.Read(context.Background(), ref(urlA, "1.1.0-draft"))
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusDraft, draft.Status)
	require.Len(t, draft.Relationships, 2)
	assert.Equal(t, "1.0.0", draft.Relationships[0].Target.Version, "unowned dependency keeps its version")
	assert.Equal(t, "1.1.0-draft", draft.Relationships[1].Target.Version, "owned component follows the draft")

	original, err := repo.Read(context.Background(), ref(urlA, "1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusActive, original.Status)
}

func TestDraft_ConventionVersion(t *testing.T) {
	eng := newTestEngine(fixture(t))

	res, err := eng.Draft(context.Background(), DraftRequest{Root: ref(urlA, "1.0.0"), Increment: policy.IncrementMinor})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0-draft", res.Root.Version)
}

func TestDraft_ClearsReleaseMetadata(t *testing.T) {
	approved := testNow.Add(-time.Hour)
	root := lib(urlA, "1.0.0", artifact.StatusActive)
	root.ApprovalDate = &approved
	root.ReleaseLabel = "R1"
	root.EffectivePeriod = &artifact.Period{Start: &approved}
	root.Approvals = []artifact.Approval{{ID: "x", Date: approved, Type: "approval"}}

	repo := repository.NewMemory("local")
	seed(t, repo, root)

	res, err := newTestEngine(repo).Draft(context.Background(), DraftRequest{Root: ref(urlA, "1.0.0"), Version: "2.0.0"})
	require.NoError(t, err)
	require.Len(t, res.Committed, 1)

	draft := res.Committed[0]
	assert.Nil(t, draft.ApprovalDate)
	assert.Nil(t, draft.EffectivePeriod)
	assert.Empty(t, draft.ReleaseLabel)
	assert.Empty(t, draft.Approvals)
}

func TestDraft_InvalidState(t *testing.T) {
	repo := fixture(t)
	seed(t, repo,
		lib("http://x/Library/d", "1.0.0-draft", artifact.StatusDraft),
		lib("http://x/Library/r", "1.0.0", artifact.StatusRetired),
	)
	eng := newTestEngine(repo)
	ctx := context.Background()

	_, err := eng.Draft(ctx, DraftRequest{Root: ref(urlA, "1.1.0"), Version: "1.2.0"})
	assert.True(t, artifact.IsNotFound(err), "missing root: %v", err)

	tests := []struct {
		name string
		req  DraftRequest
	}{
		{"draft root", DraftRequest{Root: ref("http://x/Library/d", "1.0.0-draft"), Version: "1.1.0"}},
		{"retired root", DraftRequest{Root: ref("http://x/Library/r", "1.0.0"), Version: "1.1.0"}},
		{"same version", DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := eng.Draft(ctx, tt.req)
			assert.ErrorIs(t, err, artifact.ErrInvalidState)
		})
	}

	_, err = eng.Draft(ctx, DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.1.0"})
	require.NoError(t, err)
	_, err = eng.Draft(ctx, DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.1.0"})
	assert.ErrorIs(t, err, artifact.ErrInvalidState, "second draft of the same version")

	_, err = eng.Draft(ctx, DraftRequest{Root: ref(urlA, "1.0.0"), Version: "not-a-version"})
	assert.ErrorIs(t, err, artifact.ErrPolicyViolation)
}

func TestDraft_PolicyViolationAborts(t *testing.T) {
	experimental := lib("http://x/Library/e", "1.0.0", artifact.StatusActive)
	experimental.Experimental = true

	repo := repository.NewMemory("local")
	seed(t, repo,
		experimental,
		lib(urlA, "1.0.0", artifact.StatusActive, dependsOn("http://x/Library/e", "1.0.0")),
	)

	pol := policy.Default()
	pol.ExperimentalBehavior = policy.ExperimentalError
	_, err := newTestEngine(repo).Draft(context.Background(),
		DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.1.0", Policy: pol})
	assert.ErrorIs(t, err, artifact.ErrPolicyViolation)
	assert.Equal(t, 2, repo.Len())

	pol.ExperimentalBehavior = policy.ExperimentalWarn
	res, err := newTestEngine(repo).Draft(context.Background(),
		DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.1.0", Policy: pol})
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "experimental", res.Warnings[0].Field)
}

func TestRelease(t *testing.T) {
	repo := fixture(t)
	eng := newTestEngine(repo)
	ctx := context.Background()

	_, err := eng.Draft(ctx, DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.1.0"})
	require.NoError(t, err)

	res, err := eng.Release(ctx, ReleaseRequest{Root: ref(urlA, "1.1.0-draft"), ReleaseLabel: "R2"})
	require.NoError(t, err)

	assert.Equal(t, "http://x/Library/a|1.1.0", res.Root.Key())
	assert.Equal(t, []string{
		"http://x/Library/c|1.1.0",
		"http://x/Library/a|1.1.0",
	}, keysOf(res.Committed))
	assert.Equal(t, 5, repo.Len(), "release updates drafts in place")
	require.NotNil(t, res.Plan)
	assert.Equal(t, [][]string{{"http://x/Library/c|1.1.0"}, {"http://x/Library/a|1.1.0"}}, res.Plan.Levels)

	graph, err := res.Plan.ToDOT()
	require.NoError(t, err)
	assert.Contains(t, graph, `"http://x/Library/a|1.1.0" -> "http://x/Library/c|1.1.0"`)

	released, err := repo.Read(ctx, ref(urlA, "1.1.0"))
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusActive, released.Status)
	assert.Equal(t, "R2", released.ReleaseLabel)
	require.NotNil(t, released.Date)
	assert.True(t, released.Date.Equal(testNow))
	assert.Equal(t, "1.1.0", released.Relationships[1].Target.Version)

	_, err = repo.Read(ctx, ref(urlA, "1.1.0-draft"))
	assert.True(t, artifact.IsNotFound(err))

	current, err := repo.Read(ctx, artifact.Reference{URL: urlA})
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", current.Reference.Version)
}

func TestRelease_PropagatesEffectivePeriod(t *testing.T) {
	start := testNow.AddDate(0, 1, 0)
	root := lib(urlA, "1.0.0-draft", artifact.StatusDraft, composedOf(urlC, "1.0.0-draft"))
	root.EffectivePeriod = &artifact.Period{Start: &start}

	repo := repository.NewMemory("local")
	seed(t, repo, lib(urlC, "1.0.0-draft", artifact.StatusDraft), root)

	res, err := newTestEngine(repo).Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
	require.NoError(t, err)
	require.Len(t, res.Committed, 2)

	component := res.Committed[0]
	assert.Equal(t, "http://x/Library/c|1.0.0", component.Key())
	require.NotNil(t, component.EffectivePeriod)
	assert.True(t, component.EffectivePeriod.Start.Equal(start))
}

func TestRelease_UnversionedRootGetsNextVersion(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo, lib(urlA, "", artifact.StatusDraft))

	res, err := newTestEngine(repo).Release(context.Background(), ReleaseRequest{Root: ref(urlA, "")})
	require.NoError(t, err)
	assert.Equal(t, "0.0.1", res.Root.Version)

	released, err := repo.Read(context.Background(), ref(urlA, "0.0.1"))
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusActive, released.Status)
}

func TestNextVersion_SkipsDrafts(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo,
		lib(urlB, "1.3.2", artifact.StatusRetired),
		lib(urlB, "1.4.0", artifact.StatusActive),
		lib(urlB, "1.5.0-draft", artifact.StatusDraft),
	)

	next, err := newTestEngine(repo).nextVersion(context.Background(), ref(urlB, ""))
	require.NoError(t, err)
	assert.Equal(t, "1.4.1", next)

	next, err = newTestEngine(repo).nextVersion(context.Background(), ref("http://x/Library/new", ""))
	require.NoError(t, err)
	assert.Equal(t, "0.0.1", next)
}

func TestRelease_IncompleteGraph(t *testing.T) {
	tests := []struct {
		name       string
		dependency []artifact.Node
		unresolved bool
	}{
		{"retired dependency", []artifact.Node{lib(urlB, "1.0.0", artifact.StatusRetired)}, false},
		{"missing dependency", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := repository.NewMemory("local")
			seed(t, repo, tt.dependency...)
			seed(t, repo, lib(urlA, "1.0.0-draft", artifact.StatusDraft, dependsOn(urlB, "1.0.0")))
			before := repo.Len()

			_, err := newTestEngine(repo).Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
			require.Error(t, err)
			assert.ErrorIs(t, err, artifact.ErrIncompleteGraph)
			assert.Equal(t, tt.unresolved, errors.Is(err, artifact.ErrUnresolvedDependency))
			assert.Equal(t, before, repo.Len())

			draft, err := repo.Read(context.Background(), ref(urlA, "1.0.0-draft"))
			require.NoError(t, err)
			assert.Equal(t, artifact.StatusDraft, draft.Status)
		})
	}
}

func TestRelease_InvalidState(t *testing.T) {
	repo := fixture(t)
	seed(t, repo,
		lib(urlA, "1.0.0-draft", artifact.StatusDraft),
	)

	_, err := newTestEngine(repo).Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0")})
	assert.ErrorIs(t, err, artifact.ErrInvalidState, "active root")

	_, err = newTestEngine(repo).Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
	assert.ErrorIs(t, err, artifact.ErrInvalidState, "1.0.0 already exists")
}

func TestRelease_UnknownStatus(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo, lib(urlA, "2.0.0-draft", artifact.StatusUnknown))
	eng := newTestEngine(repo)

	_, err := eng.Release(context.Background(), ReleaseRequest{Root: ref(urlA, "2.0.0-draft")})
	assert.ErrorIs(t, err, artifact.ErrInvalidState)

	pol := policy.Default()
	pol.UnknownStatus = policy.UnknownDraft
	res, err := eng.Release(context.Background(), ReleaseRequest{Root: ref(urlA, "2.0.0-draft"), Policy: pol})
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusActive, res.Committed[0].Status)
}

func TestRelease_RulesBlockBeforeWrites(t *testing.T) {
	future := testNow.Add(24 * time.Hour)
	root := lib(urlA, "1.0.0-draft", artifact.StatusDraft, composedOf(urlC, "1.0.0-draft"))
	root.ApprovalDate = &future

	repo := repository.NewMemory("local")
	seed(t, repo, lib(urlC, "1.0.0-draft", artifact.StatusDraft), root)

	rules, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	_, err = newTestEngine(repo, WithRuleEvaluator(rules)).
		Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
	require.Error(t, err)
	assert.ErrorIs(t, err, artifact.ErrPolicyViolation)

	component, err := repo.Read(context.Background(), ref(urlC, "1.0.0-draft"))
	require.NoError(t, err)
	assert.Equal(t, artifact.StatusDraft, component.Status, "no write happens when validation fails")
}

func TestRelease_LogicEvaluation(t *testing.T) {
	root := lib(urlA, "1.0.0-draft", artifact.StatusDraft)
	root.Logic = "def evaluate(ctx): return True"

	t.Run("rejected", func(t *testing.T) {
		repo := repository.NewMemory("local")
		seed(t, repo, root)
		eval := &stubEvaluator{result: EvaluationResult{Passed: false, Messages: []string{"missing population"}}}

		_, err := newTestEngine(repo, WithEvaluator(eval)).
			Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
		assert.ErrorIs(t, err, artifact.ErrEvaluation)
		assert.Contains(t, err.Error(), "missing population")
		require.Len(t, eval.calls, 1)
		assert.Equal(t, "http://x/Library/a|1.0.0", eval.calls[0].Artifact.Key())
	})

	t.Run("failed", func(t *testing.T) {
		repo := repository.NewMemory("local")
		seed(t, repo, root)
		eval := &stubEvaluator{err: errors.New("syntax error")}

		_, err := newTestEngine(repo, WithEvaluator(eval)).
			Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
		assert.ErrorIs(t, err, artifact.ErrEvaluation)
	})

	t.Run("passed", func(t *testing.T) {
		repo := repository.NewMemory("local")
		seed(t, repo, root)
		eval := &stubEvaluator{result: EvaluationResult{Passed: true}}

		res, err := newTestEngine(repo, WithEvaluator(eval)).
			Release(context.Background(), ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
		require.NoError(t, err)
		assert.Len(t, res.Committed, 1)
	})
}

func TestRelease_PartialCommit(t *testing.T) {
	repo := &flakyRepo{Memory: fixture(t)}
	eng := newTestEngine(repo)
	ctx := context.Background()

	_, err := eng.Draft(ctx, DraftRequest{Root: ref(urlA, "1.0.0"), Version: "1.1.0"})
	require.NoError(t, err)

	repo.armed = true
	repo.failAfter = 1
	_, err = eng.Release(ctx, ReleaseRequest{Root: ref(urlA, "1.1.0-draft")})
	require.Error(t, err)
	require.True(t, IsPartialCommit(err))
	assert.ErrorIs(t, err, errInjected)

	var perr *PartialCommitError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, OperationRelease, perr.Operation)
	assert.Equal(t, []string{"http://x/Library/c|1.1.0"}, artifact.Keys(perr.Committed))
	assert.Equal(t, []string{"http://x/Library/a|1.1.0"}, artifact.Keys(perr.Pending))
	assert.Equal(t, "partial_commit", errorKind(err))
}

func TestRelease_CancelledBeforeCommit(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo, lib(urlA, "1.0.0-draft", artifact.StatusDraft))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestEngine(repo).Release(ctx, ReleaseRequest{Root: ref(urlA, "1.0.0-draft")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApprove(t *testing.T) {
	repo := fixture(t)
	eng := newTestEngine(repo)
	ctx := context.Background()

	res, err := eng.Approve(ctx, ApproveRequest{
		Target:  ref(urlA, "1.0.0"),
		Summary: "Looks good",
		Author:  "reviewer",
	})
	require.NoError(t, err)
	require.Len(t, res.Committed, 1)

	approved := res.Committed[0]
	assert.Equal(t, artifact.StatusActive, approved.Status)
	require.Len(t, approved.Approvals, 1)
	assert.Equal(t, "comment", approved.Approvals[0].Type)
	assert.Equal(t, "reviewer", approved.Approvals[0].Author)
	assert.NotEmpty(t, approved.Approvals[0].ID)
	require.NotNil(t, approved.ApprovalDate)
	assert.True(t, approved.ApprovalDate.Equal(testNow))
	assert.Equal(t, 3, repo.Len())

	_, err = eng.Approve(ctx, ApproveRequest{Target: ref(urlA, "1.0.0"), ArtifactTarget: "http://x/Library/other|1.0.0"})
	assert.ErrorIs(t, err, artifact.ErrPolicyViolation)

	_, err = eng.Approve(ctx, ApproveRequest{Target: ref(urlA, "9.9.9")})
	assert.True(t, artifact.IsNotFound(err))
}

func TestApprove_Retired(t *testing.T) {
	repo := repository.NewMemory("local")
	seed(t, repo, lib(urlA, "1.0.0", artifact.StatusRetired))

	_, err := newTestEngine(repo).Approve(context.Background(), ApproveRequest{Target: ref(urlA, "1.0.0")})
	assert.ErrorIs(t, err, artifact.ErrInvalidState)
}

func TestPackage(t *testing.T) {
	repo := fixture(t)
	seed(t, repo, lib("http://x/Library/r", "1.0.0", artifact.StatusRetired))
	root := lib("http://x/Library/p", "1.0.0", artifact.StatusDraft,
		dependsOn(urlA, "1.0.0"),
		dependsOn("http://x/Library/r", "1.0.0"),
		dependsOn("http://x/Library/missing", "1.0.0"),
	)
	seed(t, repo, root)
	before := repo.Len()

	rules, err := policy.NewEngine(zerolog.Nop())
	require.NoError(t, err)

	bundle, err := newTestEngine(repo, WithRuleEvaluator(rules)).
		Package(context.Background(), PackageRequest{Root: ref("http://x/Library/p", "1.0.0")})
	require.NoError(t, err)

	assert.Equal(t, before, repo.Len(), "package never writes")
	assert.Equal(t, "http://x/Library/p|1.0.0", bundle.Root.Key())
	assert.Equal(t, []string{
		"http://x/Library/p|1.0.0",
		"http://x/Library/a|1.0.0",
		"http://x/Library/b|1.0.0",
		"http://x/Library/c|1.0.0",
		"http://x/Library/r|1.0.0",
	}, keysOf(bundle.Entries))
	assert.Len(t, bundle.Unresolved, 1)
	assert.NotEmpty(t, bundle.Fingerprint)
	assert.True(t, bundle.CreatedAt.Equal(testNow))

	var ruleNames []string
	for _, w := range bundle.Warnings {
		ruleNames = append(ruleNames, w.Rule)
	}
	assert.Contains(t, ruleNames, "retired-in-bundle")
}

func TestPackage_Options(t *testing.T) {
	const urlVS = "http://x/ValueSet/codes"
	codes := lib(urlVS, "1.0.0", artifact.StatusActive)
	codes.Reference.Type = "ValueSet"
	toCodes := dependsOn(urlVS, "1.0.0")
	toCodes.Target.Type = "ValueSet"

	repo := repository.NewMemory("local")
	seed(t, repo,
		lib(urlC, "1.0.0", artifact.StatusActive),
		lib(urlB, "1.0.0", artifact.StatusActive),
		codes,
		lib(urlA, "1.0.0", artifact.StatusActive,
			dependsOn(urlB, "1.0.0"),
			composedOf(urlC, "1.0.0"),
			toCodes,
		),
	)
	eng := newTestEngine(repo)
	ctx := context.Background()
	pkg := func(req PackageRequest) *Bundle {
		t.Helper()
		req.Root = ref(urlA, "1.0.0")
		bundle, err := eng.Package(ctx, req)
		require.NoError(t, err)
		return bundle
	}
	count := func(n int) *int { return &n }

	full := pkg(PackageRequest{})
	require.Len(t, full.Entries, 4)
	assert.Equal(t, 4, full.Total)

	tests := []struct {
		name string
		req  PackageRequest
		want []string
	}{
		{"include type", PackageRequest{Include: []string{"ValueSet"}}, []string{urlVS + "|1.0.0"}},
		{"include root only", PackageRequest{Include: []string{IncludeArtifact}}, []string{urlA + "|1.0.0"}},
		{"include root and type", PackageRequest{Include: []string{IncludeArtifact, "ValueSet"}}, []string{urlA + "|1.0.0", urlVS + "|1.0.0"}},
		{"exclude type", PackageRequest{Exclude: []string{"ValueSet"}}, []string{urlA + "|1.0.0", urlB + "|1.0.0", urlC + "|1.0.0"}},
		{"exclude wins", PackageRequest{Include: []string{"ValueSet"}, Exclude: []string{"ValueSet"}}, nil},
		{"owned components only", PackageRequest{PackageOnly: true}, []string{urlA + "|1.0.0", urlC + "|1.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle := pkg(tt.req)
			assert.ElementsMatch(t, tt.want, keysOf(bundle.Entries))
			assert.Equal(t, len(tt.want), bundle.Total)
		})
	}

	t.Run("paging", func(t *testing.T) {
		page := pkg(PackageRequest{Offset: 1, Count: count(2)})
		assert.Equal(t, keysOf(full.Entries[1:3]), keysOf(page.Entries))
		assert.Equal(t, 4, page.Total)

		assert.Equal(t, keysOf(full.Entries[3:]), keysOf(pkg(PackageRequest{Offset: 3, Count: count(5)}).Entries))
		assert.Empty(t, pkg(PackageRequest{Offset: 9}).Entries)
		assert.Empty(t, pkg(PackageRequest{Count: count(0)}).Entries)
	})

	t.Run("negative paging", func(t *testing.T) {
		for _, req := range []PackageRequest{
			{Root: ref(urlA, "1.0.0"), Offset: -1},
			{Root: ref(urlA, "1.0.0"), Count: count(-1)},
		} {
			_, err := eng.Package(ctx, req)
			assert.ErrorIs(t, err, artifact.ErrPolicyViolation)
		}
	})
}
