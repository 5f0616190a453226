package policy

import (
	"time"
)

// Operations rules can be scoped to.
const (
	OperationRelease = "release"
	OperationPackage = "package"
)

// BuiltinRules returns the rules every engine starts with.
func BuiltinRules() []Rule {
	return []Rule{
		releaseVersionFormatRule(),
		approvalChronologyRule(),
		retiredInBundleRule(),
	}
}

// releaseVersionFormatRule rejects released artifacts whose version is not
// MAJOR.MINOR.PATCH.
func releaseVersionFormatRule() Rule {
	return Rule{
		Name:        "release-version-format",
		Description: "Released artifacts must carry a MAJOR.MINOR.PATCH version without a draft marker",
		Severity:    SeverityError,
		Enabled:     true,
		Operations:  []string{OperationRelease},
		Tags:        []string{"versioning", "release"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package curator.rules.release_version

import rego.v1

canonical(ref) := sprintf("%s|%s", [ref.url, object.get(ref, "version", "")])

deny contains violation if {
	some a in input.artifacts
	a.status == "active"
	version := object.get(a.reference, "version", "")
	not regex.match("^[0-9]+\\.[0-9]+\\.(\\*|[0-9]+)$", version)
	violation := {
		"message": sprintf("Released artifact %s has invalid version '%s'", [a.reference.url, version]),
		"severity": "error",
		"artifact": canonical(a.reference),
	}
}
`,
	}
}

// approvalChronologyRule rejects approvals dated in the future.
func approvalChronologyRule() Rule {
	return Rule{
		Name:        "approval-chronology",
		Description: "Approval dates must not be later than the time of the operation",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"approval"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package curator.rules.approval

import rego.v1

canonical(ref) := sprintf("%s|%s", [ref.url, object.get(ref, "version", "")])

deny contains violation if {
	some a in input.artifacts
	approved := a.approval_date
	time.parse_rfc3339_ns(approved) > time.parse_rfc3339_ns(input.timestamp)
	violation := {
		"message": sprintf("Artifact %s has approval date %s in the future", [canonical(a.reference), approved]),
		"severity": "error",
		"artifact": canonical(a.reference),
	}
}

deny contains violation if {
	some a in input.artifacts
	some approval in object.get(a, "approvals", [])
	time.parse_rfc3339_ns(approval.date) > time.parse_rfc3339_ns(input.timestamp)
	violation := {
		"message": sprintf("Approval %s on %s is dated in the future", [approval.id, canonical(a.reference)]),
		"severity": "error",
		"artifact": canonical(a.reference),
	}
}
`,
	}
}

// retiredInBundleRule warns when a package contains retired artifacts.
func retiredInBundleRule() Rule {
	return Rule{
		Name:        "retired-in-bundle",
		Description: "Warns when a package bundle includes retired artifacts",
		Severity:    SeverityWarning,
		Enabled:     true,
		Operations:  []string{OperationPackage},
		Tags:        []string{"package", "lifecycle"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package curator.rules.retired

import rego.v1

canonical(ref) := sprintf("%s|%s", [ref.url, object.get(ref, "version", "")])

deny contains violation if {
	some a in input.artifacts
	a.status == "retired"
	violation := {
		"message": sprintf("Bundle includes retired artifact %s", [canonical(a.reference)]),
		"severity": "warning",
		"artifact": canonical(a.reference),
	}
}
`,
	}
}
