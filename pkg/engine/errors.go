package engine

import (
	"errors"
	"fmt"

	"github.com/curator-health/curator/pkg/artifact"
)

// PartialCommitError reports a commit that stopped before every staged
// write was issued. Writes already committed stay committed; the caller
// decides on compensation.
type PartialCommitError struct {
	// Operation is the lifecycle operation that was committing.
	Operation string `json:"operation"`

	// Committed lists the artifacts written before the failure, in order.
	Committed []artifact.Reference `json:"committed"`

	// Pending lists the artifacts that were not written, the failed one first.
	Pending []artifact.Reference `json:"pending"`

	// Cause is the write failure or cancellation that stopped the commit.
	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("%s commit incomplete: %d committed, %d pending: %v",
		e.Operation, len(e.Committed), len(e.Pending), e.Cause)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *PartialCommitError) Unwrap() error {
	return e.Cause
}

// IsPartialCommit reports whether err is, or wraps, a PartialCommitError.
func IsPartialCommit(err error) bool {
	var e *PartialCommitError
	return errors.As(err, &e)
}

// newIncompleteGraphError reports a release whose dependency closure cannot
// be released as a whole.
func newIncompleteGraphError(message string, ref artifact.Reference, err error) *artifact.Error {
	return artifact.NewError(artifact.KindIncompleteGraph, message, err).
		WithReference(ref).
		WithOperation(OperationRelease)
}

// errorKind returns the label recorded for err in metrics.
func errorKind(err error) string {
	if IsPartialCommit(err) {
		return "partial_commit"
	}
	if kind, ok := artifact.KindOf(err); ok {
		return string(kind)
	}
	return "internal"
}
