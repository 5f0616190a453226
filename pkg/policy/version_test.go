package policy

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/curator-health/curator/pkg/artifact"
)

func TestValidateVersion(t *testing.T) {
	tests := []struct {
		version string
		valid   bool
	}{
		{"1.0.0", true},
		{"10.20.30", true},
		{"1.0.*", true},
		{"", false},
		{"1.0.0-draft", false},
		{"1.0/0", false},
		{"1|0.0", false},
		{"1.0", false},
		{"v1.0.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			err := ValidateVersion(tt.version)
			if tt.valid {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, artifact.ErrPolicyViolation)
		})
	}
}

func TestDraftVersionRoundTrip(t *testing.T) {
	assert.Equal(t, "1.2.0-draft", DraftVersion("1.2.0"))
	assert.Equal(t, "1.2.0-draft", DraftVersion("1.2.0-draft"))
	assert.Equal(t, "1.2.0", StripDraft("1.2.0-draft"))
	assert.True(t, IsDraftVersion("1.2.0-draft"))
	assert.False(t, IsDraftVersion("1.2.0"))
}

func TestReleaseVersion(t *testing.T) {
	tests := []struct {
		name      string
		behavior  VersionBehavior
		requested string
		existing  string
		want      string
		wantErr   bool
	}{
		{"no existing uses requested", VersionDefault, "2.0.0", "", "2.0.0", false},
		{"default keeps existing", VersionDefault, "2.0.0", "1.1.0-draft", "1.1.0", false},
		{"force uses requested", VersionForceUpdate, "2.0.0", "1.1.0-draft", "2.0.0", false},
		{"force falls back to existing", VersionForceUpdate, "", "1.1.0-draft", "1.1.0", false},
		{"matching accepts equal", VersionRequireMatching, "1.1.0", "1.1.0-draft", "1.1.0", false},
		{"matching rejects different", VersionRequireMatching, "2.0.0", "1.1.0-draft", "", true},
		{"nothing to resolve", VersionDefault, "", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReleaseVersion(tt.behavior, tt.requested, tt.existing)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, "version", fieldOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func fieldOf(err error) string {
	var e *artifact.Error
	if ok := asError(err, &e); ok {
		return e.Field
	}
	return ""
}

func TestNextVersion(t *testing.T) {
	tests := []struct {
		current string
		inc     Increment
		want    string
	}{
		{"1.2.3", IncrementPatch, "1.2.4"},
		{"1.2.3", IncrementMinor, "1.3.0"},
		{"1.2.3", IncrementMajor, "2.0.0"},
		{"1.2.3-draft", IncrementPatch, "1.2.4"},
		{"", IncrementMajor, "1.0.0"},
		{"", IncrementMinor, "0.1.0"},
		{"0.9.9", "", "0.9.10"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s+%s", tt.current, tt.inc), func(t *testing.T) {
			got, err := NextVersion(tt.current, tt.inc)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := NextVersion("latest", IncrementPatch)
	assert.ErrorIs(t, err, artifact.ErrPolicyViolation)
}

func TestNextVersionIsGreater(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		current := fmt.Sprintf("%d.%d.%d",
			rapid.IntRange(0, 50).Draw(t, "major"),
			rapid.IntRange(0, 50).Draw(t, "minor"),
			rapid.IntRange(0, 50).Draw(t, "patch"))
		inc := rapid.SampledFrom([]Increment{IncrementMajor, IncrementMinor, IncrementPatch}).Draw(t, "inc")

		next, err := NextVersion(current, inc)
		if err != nil {
			t.Fatalf("NextVersion(%s, %s): %v", current, inc, err)
		}
		if CompareVersions(next, current) <= 0 {
			t.Fatalf("NextVersion(%s, %s) = %s is not greater", current, inc, next)
		}
		if err := ValidateVersion(next); err != nil {
			t.Fatalf("NextVersion produced invalid version %s: %v", next, err)
		}
	})
}

func TestLatest(t *testing.T) {
	assert.Equal(t, "", Latest(nil))
	assert.Equal(t, "1.10.0", Latest([]string{"1.2.0", "1.10.0", "1.9.9"}))
	assert.Equal(t, "2.0.0", Latest([]string{"2.0.0-draft", "2.0.0", "1.0.0"}))
	assert.Equal(t, "1.0.0", Latest([]string{"snapshot", "1.0.0"}))
}
