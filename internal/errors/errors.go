package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error by how the pipeline recovers from it, not by
// where it happened.
type Kind int

const (
	// KindTransient - transport failures (5xx, timeout, rate-limit 403).
	// Retried with backoff inside the client; surfaces as a per-call failure.
	KindTransient Kind = iota
	// KindParse - the LLM returned unparseable output. The target keeps its
	// previous state and the scheduler retries on the next tick.
	KindParse
	// KindConflict - unique violation on an idempotent insert. Swallowed and
	// treated as "already present".
	KindConflict
	// KindPrecondition - a prerequisite is missing (snapshot not ready).
	// The target stays in its waiting state; retried indefinitely.
	KindPrecondition
	// KindInvalidTransition - illegal client-vuln status change. Rejected at
	// the service boundary; never retried.
	KindInvalidTransition
	// KindInternal - anything else. The target gets an error_message and a
	// terminal status; processing continues with other targets.
	KindInternal
)

// Error carries a recovery kind plus structured context.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches on Kind so callers can branch with errors.Is against a bare
// kind sentinel.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// WithContext attaches a key/value pair for structured logging.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error. Returns nil for a nil cause.
func Wrap(err error, kind Kind, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: message, Cause: err}
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, kind Kind, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Transient wraps a transport failure.
func Transient(err error, message string) *Error {
	return Wrap(err, KindTransient, message)
}

// Transientf wraps a transport failure with formatting.
func Transientf(err error, format string, args ...any) *Error {
	return Wrapf(err, KindTransient, format, args...)
}

// Parsef creates a parse/schema error.
func Parsef(format string, args ...any) *Error {
	return Newf(KindParse, format, args...)
}

// Conflict creates an idempotency-conflict error.
func Conflict(message string) *Error {
	return New(KindConflict, message)
}

// Precondition creates a missing-prerequisite error.
func Precondition(message string) *Error {
	return New(KindPrecondition, message)
}

// Preconditionf creates a missing-prerequisite error with formatting.
func Preconditionf(format string, args ...any) *Error {
	return Newf(KindPrecondition, format, args...)
}

// InvalidTransition creates a rejected status-change error.
func InvalidTransition(from, to string) *Error {
	return Newf(KindInvalidTransition, "invalid status transition %s -> %s", from, to)
}

// Internalf creates an internal error.
func Internalf(format string, args ...any) *Error {
	return Newf(KindInternal, format, args...)
}

// KindOf extracts the kind from an error chain; plain errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsTransient reports whether the error chain carries a transient kind.
func IsTransient(err error) bool {
	return is(err, KindTransient)
}

// IsConflict reports whether the error chain carries a conflict kind.
func IsConflict(err error) bool {
	return is(err, KindConflict)
}

// IsPrecondition reports whether the error chain carries a precondition kind.
func IsPrecondition(err error) bool {
	return is(err, KindPrecondition)
}

// IsParse reports whether the error chain carries a parse kind.
func IsParse(err error) bool {
	return is(err, KindParse)
}

// IsInvalidTransition reports whether the chain carries a transition kind.
func IsInvalidTransition(err error) bool {
	return is(err, KindInvalidTransition)
}

func is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}
