// Package diff computes field-level differences between two revisions of the
// same artifact.
//
// Changes are reported in a fixed field order followed by relationship
// changes in declaration order, so repeated diffs of the same pair produce
// identical output. Text fields carry a diff-match-patch patch alongside the
// old and new values.
package diff
