package artifact

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an error for reporting and retry decisions.
type ErrorKind string

const (
	// KindCyclicDependency indicates the dependency graph contains a cycle.
	KindCyclicDependency ErrorKind = "cyclic_dependency"

	// KindUnresolvedDependency indicates a dependency could not be bound in strict mode.
	KindUnresolvedDependency ErrorKind = "unresolved_dependency"

	// KindPolicyViolation indicates a version or experimental rule rejected an edge or plan.
	KindPolicyViolation ErrorKind = "policy_violation"

	// KindInvalidState indicates an illegal lifecycle transition.
	KindInvalidState ErrorKind = "invalid_state"

	// KindAmbiguousTarget indicates a federated write has no unambiguous owner.
	KindAmbiguousTarget ErrorKind = "ambiguous_target"

	// KindConflict indicates an optimistic-concurrency write rejection.
	KindConflict ErrorKind = "conflict"

	// KindRepository indicates a transient repository or network failure.
	KindRepository ErrorKind = "repository"

	// KindNotFound indicates the referenced artifact does not exist.
	KindNotFound ErrorKind = "not_found"

	// KindIncompleteGraph indicates a release graph with unresolved or unreleasable members.
	KindIncompleteGraph ErrorKind = "incomplete_graph"

	// KindEvaluation indicates embedded logic failed to evaluate.
	KindEvaluation ErrorKind = "evaluation"
)

// Sentinels for errors.Is checks. Matching is by kind only.
var (
	ErrCyclicDependency     = &Error{Kind: KindCyclicDependency}
	ErrUnresolvedDependency = &Error{Kind: KindUnresolvedDependency}
	ErrPolicyViolation      = &Error{Kind: KindPolicyViolation}
	ErrInvalidState         = &Error{Kind: KindInvalidState}
	ErrAmbiguousTarget      = &Error{Kind: KindAmbiguousTarget}
	ErrConflict             = &Error{Kind: KindConflict}
	ErrRepository           = &Error{Kind: KindRepository}
	ErrNotFound             = &Error{Kind: KindNotFound}
	ErrIncompleteGraph      = &Error{Kind: KindIncompleteGraph}
	ErrEvaluation           = &Error{Kind: KindEvaluation}
)

// Error is a classified error carrying the structured context a caller needs
// to render an actionable message.
type Error struct {
	// Kind is the error classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Reference is the offending artifact, if any.
	Reference Reference `json:"reference,omitempty"`

	// Path is the edge path for cycles, or the traversal path to the offending edge.
	Path []Reference `json:"path,omitempty"`

	// Field names the field a policy violation applies to.
	Field string `json:"field,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)

	var ctx []string
	if !e.Reference.IsZero() {
		ctx = append(ctx, "artifact="+e.Reference.Key())
	}
	if e.Field != "" {
		ctx = append(ctx, "field="+e.Field)
	}
	if e.Operation != "" {
		ctx = append(ctx, "operation="+e.Operation)
	}
	if len(e.Path) > 0 {
		ctx = append(ctx, "path="+FormatPath(e.Path))
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Retryable reports whether the error is transient.
func (e *Error) Retryable() bool {
	return e.Kind == KindRepository
}

// NewError creates a classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a not-found error for ref.
func NewNotFoundError(ref Reference) *Error {
	return NewError(KindNotFound, "artifact not found", nil).WithReference(ref)
}

// NewConflictError creates an optimistic-concurrency conflict error.
func NewConflictError(message string, err error) *Error {
	return NewError(KindConflict, message, err)
}

// NewRepositoryError creates a transient repository error.
func NewRepositoryError(message string, err error) *Error {
	return NewError(KindRepository, message, err)
}

// NewPolicyViolation creates a policy violation on field.
func NewPolicyViolation(message, field string) *Error {
	return NewError(KindPolicyViolation, message, nil).WithField(field)
}

// NewInvalidStateError creates an illegal-transition error.
func NewInvalidStateError(message string) *Error {
	return NewError(KindInvalidState, message, nil)
}

// NewCyclicDependencyError creates a cycle error naming the cycle path.
func NewCyclicDependencyError(cycle []Reference) *Error {
	e := NewError(KindCyclicDependency,
		fmt.Sprintf("circular dependency detected: %s", FormatPath(cycle)), nil)
	e.Path = cycle
	if len(cycle) > 0 {
		e.Reference = cycle[0]
	}
	return e
}

// WithReference adds artifact context to an error.
func (e *Error) WithReference(ref Reference) *Error {
	e.Reference = ref
	return e
}

// WithPath adds path context to an error.
func (e *Error) WithPath(path []Reference) *Error {
	e.Path = path
	return e
}

// WithField adds the offending field name.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsNotFound returns true if err is classified as not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if err is classified as a conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsRetryable returns true if err is a transient repository error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// IsStructural returns true for deterministic, non-retryable errors about the
// artifact graph or its policies.
func IsStructural(err error) bool {
	for _, sentinel := range []error{
		ErrCyclicDependency, ErrUnresolvedDependency, ErrPolicyViolation,
		ErrInvalidState, ErrIncompleteGraph, ErrEvaluation,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

// FormatPath renders a reference path as "a -> b -> c".
func FormatPath(path []Reference) string {
	return strings.Join(Keys(path), " -> ")
}
