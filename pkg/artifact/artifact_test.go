package artifact

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReferenceEquality(t *testing.T) {
	a := NewReference("http://example.org/Library/lib", "1.0.0", "Library")
	b := NewReference("http://example.org/Library/lib", "1.0.0", "")
	c := NewReference("http://example.org/Library/lib", "2.0.0", "Library")
	any := NewReference("http://example.org/Library/lib", "", "")

	assert.True(t, a.Equal(b), "type must not participate in equality")
	assert.False(t, a.Equal(c))
	assert.True(t, a.Equal(any), "unversioned reference matches any version")
	assert.True(t, any.Equal(c))
	assert.False(t, a.Equal(NewReference("http://example.org/Library/other", "1.0.0", "")))
}

func TestReferenceKey(t *testing.T) {
	ref := ParseCanonical("http://example.org/ValueSet/vs|1.2.3")
	assert.Equal(t, "http://example.org/ValueSet/vs", ref.URL)
	assert.Equal(t, "1.2.3", ref.Version)
	assert.Equal(t, "http://example.org/ValueSet/vs|1.2.3", ref.Key())
	assert.Equal(t, "http://example.org/ValueSet/vs", ref.Unversioned().Key())

	bare := ParseCanonical("http://example.org/ValueSet/vs")
	assert.False(t, bare.HasVersion())
	assert.Equal(t, "2.0.0", bare.WithVersion("2.0.0").Version)
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		in   string
		want Status
	}{
		{"draft", StatusDraft},
		{"ACTIVE", StatusActive},
		{" retired ", StatusRetired},
		{"", StatusUnknown},
		{"superseded", StatusUnknown},
	}
	for _, tt := range tests {
		if got := ParseStatus(tt.in); got != tt.want {
			t.Errorf("ParseStatus(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNodeCloneIsIndependent(t *testing.T) {
	n := Node{
		Reference:     NewReference("u", "1.0.0", ""),
		Relationships: []Relationship{{Kind: RelationshipDependsOn, Target: NewReference("d", "1.0.0", "")}},
	}
	c := n.Clone()
	c.Relationships[0].Target.Version = "9.9.9"
	assert.Equal(t, "1.0.0", n.Relationships[0].Target.Version)
}

func TestNodeMethodsOnValues(t *testing.T) {
	build := func() Node {
		return Node{
			Reference: NewReference("u", "1.0.0", ""),
			Logic:     "define X: true",
			Relationships: []Relationship{
				{Kind: RelationshipDependsOn, Target: NewReference("d", "1.0.0", "")},
				{Kind: RelationshipSuccessor, Target: NewReference("s", "2.0.0", "")},
			},
		}
	}
	nodes := map[string]Node{"u": build()}

	// Results of calls and map lookups are not addressable.
	assert.Equal(t, NewReference("u", "1.0.0", "").Key(), build().Key())
	assert.True(t, nodes["u"].HasLogic())
	require.Len(t, build().Dependencies(), 1)
	assert.Equal(t, "d", nodes["u"].Dependencies()[0].Target.URL)
}

func TestErrorKindsMatchThroughWrapping(t *testing.T) {
	cause := NewPolicyViolation("experimental dependency", "experimental").
		WithReference(NewReference("vs", "1.0.0", ""))
	unresolved := NewError(KindUnresolvedDependency, "dependency could not be resolved", cause)
	incomplete := NewError(KindIncompleteGraph, "release graph is incomplete", unresolved)
	wrapped := fmt.Errorf("release failed: %w", incomplete)

	assert.True(t, errors.Is(wrapped, ErrIncompleteGraph))
	assert.True(t, errors.Is(wrapped, ErrUnresolvedDependency))
	assert.True(t, errors.Is(wrapped, ErrPolicyViolation))
	assert.False(t, errors.Is(wrapped, ErrCyclicDependency))
	assert.True(t, IsStructural(wrapped))

	kind, ok := KindOf(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindIncompleteGraph, kind)
}

func TestCyclicDependencyErrorNamesPath(t *testing.T) {
	a := NewReference("A", "1.0.0", "")
	b := NewReference("B", "1.0.0", "")
	err := NewCyclicDependencyError([]Reference{a, b, a})

	assert.Contains(t, err.Error(), "A|1.0.0 -> B|1.0.0 -> A|1.0.0")
	assert.Equal(t, a, err.Reference)
	assert.Len(t, err.Path, 3)
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRepositoryError("timeout", nil)))
	assert.False(t, IsRetryable(NewConflictError("stale revision", nil)))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.True(t, IsNotFound(NewNotFoundError(NewReference("x", "", ""))))
}
