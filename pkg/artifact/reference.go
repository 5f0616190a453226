package artifact

import (
	"strings"
)

// canonicalSeparator separates the url and version of a canonical reference.
const canonicalSeparator = "|"

// Reference identifies an artifact by canonical URL and optional version.
// A reference without a version means "latest" or "any".
type Reference struct {
	// URL is the canonical URL or literal address of the artifact.
	URL string `json:"url" yaml:"url"`

	// Version is the business version, empty when unspecified.
	Version string `json:"version,omitempty" yaml:"version,omitempty"`

	// Type is the resource type (e.g. "Library", "PlanDefinition", "ValueSet").
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// NewReference creates a typed, versioned reference.
func NewReference(url, version, typ string) Reference {
	return Reference{URL: url, Version: version, Type: typ}
}

// ParseCanonical parses a "url|version" canonical string.
func ParseCanonical(canonical string) Reference {
	url, version, _ := strings.Cut(strings.TrimSpace(canonical), canonicalSeparator)
	return Reference{URL: url, Version: version}
}

// HasVersion reports whether the reference pins a version.
func (r Reference) HasVersion() bool {
	return r.Version != ""
}

// Key returns the identity key: url|version when versioned, url otherwise.
func (r Reference) Key() string {
	if r.Version == "" {
		return r.URL
	}
	return r.URL + canonicalSeparator + r.Version
}

// Canonical returns the canonical string form of the reference.
func (r Reference) Canonical() string {
	return r.Key()
}

// String implements fmt.Stringer.
func (r Reference) String() string {
	return r.Key()
}

// Equal compares by (url, version) when both references carry a version,
// and by url alone otherwise.
func (r Reference) Equal(other Reference) bool {
	if r.URL != other.URL {
		return false
	}
	if r.HasVersion() && other.HasVersion() {
		return r.Version == other.Version
	}
	return true
}

// WithVersion returns a copy of the reference bound to version.
func (r Reference) WithVersion(version string) Reference {
	r.Version = version
	return r
}

// Unversioned returns a copy of the reference without a version.
func (r Reference) Unversioned() Reference {
	r.Version = ""
	return r
}

// IsZero reports whether the reference is empty.
func (r Reference) IsZero() bool {
	return r.URL == ""
}

// Keys returns the identity keys of refs.
func Keys(refs []Reference) []string {
	keys := make([]string, len(refs))
	for i, ref := range refs {
		keys[i] = ref.Key()
	}
	return keys
}
