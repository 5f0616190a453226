// Package policy decides how dependency versions are bound and which
// releases and packages are acceptable.
//
// It has two halves. Policy is the per-operation version and experimental
// configuration: Target picks the reference to fetch for a declared
// dependency and Evaluate accepts, warns about or rejects the fetched
// candidate. The version helpers (ValidateVersion, DraftVersion,
// ReleaseVersion, NextVersion, Latest) encode the repository versioning
// convention.
//
// Engine evaluates Open Policy Agent rules against the artifacts a release
// is about to write or a package is about to bundle:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, &policy.RuleInput{
//	    Operation: policy.OperationRelease,
//	    Root:      root.Reference,
//	    Artifacts: planned,
//	})
//	if !result.Allowed {
//	    // result.Violations block the release
//	}
//
// Rules are Rego modules defining a deny set. Members may be plain strings
// or objects with "message", "severity" and "artifact" keys:
//
//	package curator.custom.title
//
//	import rego.v1
//
//	deny contains violation if {
//	    some a in input.artifacts
//	    not a.title
//	    violation := {
//	        "message": "artifact needs a title",
//	        "severity": "error",
//	        "artifact": a.reference.url,
//	    }
//	}
//
// Built-in rules:
//
//  1. release-version-format - released artifacts carry MAJOR.MINOR.PATCH
//  2. approval-chronology - approvals are not dated in the future
//  3. retired-in-bundle - packages containing retired artifacts warn
//
// Additional rules load from .rego files or JSON/YAML definitions with
// LoadRules, and Watch reloads them when files change.
package policy
