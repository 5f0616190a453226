package policy

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/curator-health/curator/pkg/artifact"
)

// DraftSuffix marks the version of a draft artifact.
const DraftSuffix = "-draft"

var versionPattern = regexp.MustCompile(`^(\d+\.)(\d+\.)(\*|\d+)$`)

// ValidateVersion checks a caller-supplied release or draft version.
func ValidateVersion(version string) error {
	switch {
	case version == "":
		return artifact.NewPolicyViolation("the version argument is required", "version")
	case strings.Contains(version, "draft"):
		return artifact.NewPolicyViolation("the version cannot contain 'draft'", "version")
	case strings.ContainsAny(version, `/\|`):
		return artifact.NewPolicyViolation("the version contains illegal characters", "version")
	case !versionPattern.MatchString(version):
		return artifact.NewPolicyViolation("the version must be in the format MAJOR.MINOR.PATCH", "version")
	}
	return nil
}

// DraftVersion returns the draft form of version.
func DraftVersion(version string) string {
	return StripDraft(version) + DraftSuffix
}

// StripDraft removes the draft marker from version.
func StripDraft(version string) string {
	return strings.ReplaceAll(version, DraftSuffix, "")
}

// IsDraftVersion reports whether version carries the draft marker.
func IsDraftVersion(version string) bool {
	return strings.HasSuffix(version, DraftSuffix)
}

// ReleaseVersion picks the version a released root receives from the
// caller's requested version and the version it currently carries.
func ReleaseVersion(behavior VersionBehavior, requested, existing string) (string, error) {
	existing = StripDraft(strings.TrimSpace(existing))

	var version string
	switch {
	case existing == "":
		version = requested
	case behavior == VersionForceUpdate:
		version = requested
		if version == "" {
			version = existing
		}
	case behavior == VersionRequireMatching:
		if requested != "" && requested != existing {
			return "", artifact.NewPolicyViolation(fmt.Sprintf(
				"version behavior is %s and the requested version %q does not match the artifact version %q",
				behavior, requested, existing), "version")
		}
		version = existing
	default:
		version = existing
	}

	if version == "" {
		return "", artifact.NewPolicyViolation("could not resolve a version for the root artifact", "version")
	}
	return version, nil
}

// Increment names the semver component NextVersion bumps.
type Increment string

const (
	IncrementMajor Increment = "major"
	IncrementMinor Increment = "minor"
	IncrementPatch Increment = "patch"
)

// canonicalSemver converts a repository version into the "vX.Y.Z" form
// x/mod/semver expects. ok is false for versions that are not semver.
func canonicalSemver(version string) (string, bool) {
	v := StripDraft(version)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", false
	}
	return semver.Canonical(v), true
}

// NextVersion increments current. An empty current yields 1.0.0 (or 0.1.0
// for a minor increment, 0.0.1 for patch).
func NextVersion(current string, inc Increment) (string, error) {
	if strings.TrimSpace(current) == "" {
		switch inc {
		case IncrementMinor:
			return "0.1.0", nil
		case IncrementPatch:
			return "0.0.1", nil
		default:
			return "1.0.0", nil
		}
	}

	v, ok := canonicalSemver(current)
	if !ok {
		return "", artifact.NewPolicyViolation(
			fmt.Sprintf("cannot increment non-semver version %q", current), "version")
	}

	core := strings.TrimPrefix(v, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}

	nums := make([]int, 3)
	for i, p := range strings.SplitN(core, ".", 3) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", fmt.Errorf("failed to parse version %q: %w", current, err)
		}
		nums[i] = n
	}

	switch inc {
	case IncrementMajor:
		nums[0], nums[1], nums[2] = nums[0]+1, 0, 0
	case IncrementMinor:
		nums[1], nums[2] = nums[1]+1, 0
	case IncrementPatch, "":
		nums[2]++
	default:
		return "", fmt.Errorf("unknown version increment %q", inc)
	}

	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]), nil
}

// CompareVersions orders two repository versions. Semver versions compare
// numerically and sort after non-semver ones, which compare as strings.
func CompareVersions(a, b string) int {
	va, okA := canonicalSemver(a)
	vb, okB := canonicalSemver(b)

	switch {
	case okA && okB:
		if c := semver.Compare(va, vb); c != 0 {
			return c
		}
		// 1.0.0 sorts after 1.0.0-draft.
		return compareDraft(a, b)
	case okA:
		return 1
	case okB:
		return -1
	default:
		return strings.Compare(a, b)
	}
}

func compareDraft(a, b string) int {
	da, db := IsDraftVersion(a), IsDraftVersion(b)
	switch {
	case da == db:
		return strings.Compare(a, b)
	case da:
		return -1
	default:
		return 1
	}
}

// Latest returns the highest version in versions, or "" when empty.
func Latest(versions []string) string {
	if len(versions) == 0 {
		return ""
	}
	sorted := append([]string(nil), versions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return CompareVersions(sorted[i], sorted[j]) < 0
	})
	return sorted[len(sorted)-1]
}
