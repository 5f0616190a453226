package config

import (
	"fmt"
	"time"

	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/repository"
)

// Repository kinds.
const (
	KindLocal     = "local"
	KindREST      = "rest"
	KindProxy     = "proxy"
	KindFederated = "federated"
)

// Topology is the repository layout and the defaults lifecycle operations
// run with.
type Topology struct {
	// Repositories declares every handle. Names must be unique.
	Repositories []RepositoryConfig `json:"repositories" validate:"required,min=1,dive"`

	// Default names the repository lifecycle operations use.
	Default string `json:"default" validate:"required"`

	// Policy is the default version and experimental policy.
	Policy PolicyConfig `json:"policy,omitempty"`

	// Rules configures additional OPA rule files.
	Rules RulesConfig `json:"rules,omitempty"`

	// Logic configures the embedded logic evaluator.
	Logic LogicConfig `json:"logic,omitempty"`

	// Publish configures bundle publication. Nil disables it.
	Publish *PublishConfig `json:"publish,omitempty"`
}

// RepositoryConfig declares one repository handle.
type RepositoryConfig struct {
	// Name identifies the handle.
	Name string `json:"name" validate:"required"`

	// Kind is local, rest, proxy or federated.
	Kind string `json:"kind" validate:"required,oneof=local rest proxy federated"`

	// Path is the SQLite database of a local repository.
	Path string `json:"path,omitempty" validate:"required_if=Kind local"`

	// URL is the base URL of a rest repository.
	URL string `json:"url,omitempty" validate:"required_if=Kind rest"`

	// Token is sent as a bearer token by rest repositories.
	Token string `json:"token,omitempty"`

	// Timeout bounds each call, as a Go duration string.
	Timeout string `json:"timeout,omitempty"`

	// MaxAttempts bounds rest read retries.
	MaxAttempts uint `json:"max_attempts,omitempty"`

	// Inner names the repository a proxy delegates to.
	Inner string `json:"inner,omitempty" validate:"required_if=Kind proxy"`

	// Rewrites are the URL prefix rewrites of a proxy.
	Rewrites []repository.Rewrite `json:"rewrites,omitempty" validate:"dive"`

	// Members are the members of a federated repository in priority order.
	Members []MemberConfig `json:"members,omitempty" validate:"required_if=Kind federated,dive"`
}

// CallTimeout parses Timeout. Zero means no timeout.
func (r RepositoryConfig) CallTimeout() (time.Duration, error) {
	if r.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(r.Timeout)
	if err != nil {
		return 0, fmt.Errorf("repository %s: invalid timeout %q: %w", r.Name, r.Timeout, err)
	}
	return d, nil
}

// MemberConfig references a federation member.
type MemberConfig struct {
	// Name is the member repository.
	Name string `json:"name" validate:"required"`

	// Prefixes are the URL prefixes the member owns for writes.
	Prefixes []string `json:"prefixes,omitempty"`
}

// PolicyConfig is the serialized form of policy.Policy.
type PolicyConfig struct {
	VersionBehavior       string `json:"version_behavior,omitempty"`
	ExperimentalBehavior  string `json:"experimental_behavior,omitempty"`
	UnknownStatus         string `json:"unknown_status,omitempty"`
	AllowMultipleVersions bool   `json:"allow_multiple_versions,omitempty"`
}

// ToPolicy converts the configuration, filling defaults.
func (p PolicyConfig) ToPolicy() (policy.Policy, error) {
	pol := policy.Policy{
		VersionBehavior:       policy.VersionBehavior(p.VersionBehavior),
		ExperimentalBehavior:  policy.ExperimentalBehavior(p.ExperimentalBehavior),
		UnknownStatus:         policy.UnknownStatusBehavior(p.UnknownStatus),
		AllowMultipleVersions: p.AllowMultipleVersions,
	}.Normalize()
	if err := pol.Validate(); err != nil {
		return policy.Policy{}, err
	}
	return pol, nil
}

// RulesConfig configures OPA rule loading.
type RulesConfig struct {
	// Paths are files or directories of .rego/.json/.yaml rules.
	Paths []string `json:"paths,omitempty"`

	// Watch reloads rules when the files change.
	Watch bool `json:"watch,omitempty"`
}

// LogicConfig configures the Starlark evaluator.
type LogicConfig struct {
	// Timeout bounds each script run, as a Go duration string.
	Timeout string `json:"timeout,omitempty"`

	// MaxSteps bounds the Starlark steps per run.
	MaxSteps uint64 `json:"max_steps,omitempty"`

	// VersionConvention is a Starlark script defining next_version.
	VersionConvention string `json:"version_convention,omitempty"`
}

// RunTimeout parses Timeout. Zero means the evaluator default.
func (l LogicConfig) RunTimeout() (time.Duration, error) {
	if l.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(l.Timeout)
	if err != nil {
		return 0, fmt.Errorf("logic: invalid timeout %q: %w", l.Timeout, err)
	}
	return d, nil
}

// PublishConfig configures S3-compatible bundle storage.
type PublishConfig struct {
	Endpoint  string `json:"endpoint" validate:"required"`
	Bucket    string `json:"bucket" validate:"required"`
	Prefix    string `json:"prefix,omitempty"`
	Region    string `json:"region,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	UseSSL    bool   `json:"use_ssl,omitempty"`
}

// ValidationError represents a configuration problem.
type ValidationError struct {
	// File is the source file where the error occurred.
	File string `json:"file,omitempty"`

	// Line is the line number.
	Line int `json:"line,omitempty"`

	// Column is the column number.
	Column int `json:"column,omitempty"`

	// Path is the configuration path (e.g., "repositories[0].url").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity"`
}

// Error implements the error interface.
func (ve ValidationError) Error() string {
	switch {
	case ve.File != "":
		return fmt.Sprintf("%s:%d:%d: %s", ve.File, ve.Line, ve.Column, ve.Message)
	case ve.Path != "":
		return fmt.Sprintf("%s: %s", ve.Path, ve.Message)
	default:
		return ve.Message
	}
}

// ParsedConfig is the result of parsing topology sources.
type ParsedConfig struct {
	// Topology is the decoded configuration. Nil when Errors is not empty.
	Topology *Topology `json:"topology,omitempty"`

	// SourceFiles lists the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when parsing completed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists every problem found.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Valid reports whether parsing produced a usable topology.
func (pc *ParsedConfig) Valid() bool {
	return pc.Topology != nil && len(pc.Errors) == 0
}
