// Package txerr implements the core's tagged error taxonomy. Errors are
// values carrying a closed Kind, structured Fields, and an optional
// correlation id -- never free-form strings only.
package txerr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is the closed set of error categories a service may return.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindNotFound    Kind = "not-found"
	KindConflict    Kind = "conflict"
	KindDatabase    Kind = "database"
	KindUnavailable Kind = "unavailable"
	KindCorruption  Kind = "corruption"
)

// Error is the concrete tagged error type. All service-returned errors
// should be (or wrap) a *Error so callers can discriminate by Kind.
type Error struct {
	Kind          Kind
	Message       string
	Fields        map[string]any
	Cause         error
	CorrelationID string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func new_(kind Kind, msg string, fields map[string]any, cause error) *Error {
	return &Error{
		Kind:          kind,
		Message:       msg,
		Fields:        fields,
		Cause:         cause,
		CorrelationID: uuid.NewString(),
	}
}

// NotFound builds a not-found error, e.g. TaskNotFoundError, RunNotFoundError.
func NotFound(entity, id string) *Error {
	return new_(KindNotFound, fmt.Sprintf("%s %q not found", entity, id), map[string]any{"entity": entity, "id": id}, nil)
}

// Validation builds a validation error with the offending field named.
func Validation(msg string, fields map[string]any) *Error {
	return new_(KindValidation, msg, fields, nil)
}

// Conflict builds a conflict error (AlreadyClaimed, InvalidTransition, Circular...).
func Conflict(msg string, fields map[string]any) *Error {
	return new_(KindConflict, msg, fields, nil)
}

// Database wraps a storage-layer failure.
func Database(msg string, cause error) *Error {
	return new_(KindDatabase, msg, nil, cause)
}

// Unavailable builds a graceful-degradation error for a pluggable dependency.
func Unavailable(msg string, fields map[string]any) *Error {
	return new_(KindUnavailable, msg, fields, nil)
}

// Corruption flags an on-disk invariant violation.
func Corruption(msg string, fields map[string]any) *Error {
	return new_(KindCorruption, msg, fields, nil)
}

// Is reports whether err is (or wraps) a *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// As is a convenience wrapper around errors.As for *Error.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Named sentinel constructors matching spec.md's minimum taxonomy. Each
// returns a *Error of the appropriate Kind with a fixed Message prefix so
// callers can still pattern-match on Message when they need the specific
// named variant rather than just the Kind.

func TaskNotFound(id string) *Error { return NotFound("task", id) }
func RunNotFound(id string) *Error  { return NotFound("run", id) }

func LearningNotFound(id int64) *Error {
	return NotFound("learning", fmt.Sprintf("%d", id))
}

func AnchorNotFound(id int64) *Error {
	return NotFound("anchor", fmt.Sprintf("%d", id))
}

func InvalidTransition(from, to string) *Error {
	e := Conflict("invalid status transition", map[string]any{"from": from, "to": to})
	e.Message = fmt.Sprintf("invalid transition from %q to %q", from, to)
	return e
}

func CircularDependency(blocker, blocked string) *Error {
	e := Conflict("circular dependency", map[string]any{"blocker": blocker, "blocked": blocked})
	e.Message = fmt.Sprintf("adding blocker %q to %q would create a cycle", blocker, blocked)
	return e
}

func AlreadyClaimed(taskID, claimedBy string) *Error {
	e := Conflict("already claimed", map[string]any{"taskId": taskID, "claimedByWorkerId": claimedBy})
	e.Message = fmt.Sprintf("task %q already claimed by worker %q", taskID, claimedBy)
	return e
}

func ClaimNotOwned(claimID, workerID string) *Error {
	e := Conflict("claim not owned", map[string]any{"claimId": claimID, "workerId": workerID})
	e.Message = fmt.Sprintf("claim %q is not owned by worker %q", claimID, workerID)
	return e
}

func InvalidDate(field, value string) *Error {
	e := Validation("invalid date", map[string]any{"field": field, "value": value})
	e.Message = fmt.Sprintf("field %q has invalid ISO-8601 value %q", field, value)
	return e
}

func LlmUnavailable(reason string) *Error {
	return Unavailable("llm backend unavailable", map[string]any{"reason": reason})
}

func ExtractionUnavailable(reason string) *Error {
	return Unavailable("extraction backend unavailable", map[string]any{"reason": reason})
}

func EmbeddingUnavailable(reason string) *Error {
	return Unavailable("embedding backend unavailable", map[string]any{"reason": reason})
}
