// Package errkind defines the stable error classification used across the
// orchestration layer. Every recoverable failure carries one of these kinds
// so callers (schedulers, the agent runtime, HTTP/WS transports) can branch
// on a small closed set instead of string-matching messages.
package errkind

import (
	"errors"
	"fmt"
)

// Kind is a stable error classification. Kinds are part of the external
// contract: transports serialize them verbatim in error events and API
// responses, so values must never be renamed once shipped.
type Kind string

const (
	// ConfigError indicates malformed configuration or a missing required setting.
	ConfigError Kind = "config_error"
	// SessionInitFailed indicates the session's filesystem roots could not be created.
	SessionInitFailed Kind = "session_init_failed"
	// CyclicDependency indicates a DAG contains a dependency cycle.
	CyclicDependency Kind = "cyclic_dependency"
	// DanglingReference indicates a DAG node depends on an id that does not exist.
	DanglingReference Kind = "dangling_reference"
	// DuplicateNodeID indicates two DAG nodes share the same id.
	DuplicateNodeID Kind = "duplicate_node_id"
	// ToolNotFound indicates the tool registry has no invocable for a name or alias.
	ToolNotFound Kind = "tool_not_found"
	// ToolFailure indicates a tool raised while executing; the message is preserved.
	ToolFailure Kind = "tool_failure"
	// ExecutionTimeout indicates a tool exceeded its dispatch deadline.
	ExecutionTimeout Kind = "execution_timeout"
	// UserRejected indicates the privilege gate denied a tool call.
	UserRejected Kind = "user_rejected"
	// Interrupted indicates cancellation was observed before or during dispatch.
	Interrupted Kind = "interrupted"
	// SandboxUnavailable is informational: the session's sandbox has been
	// dropped and the fallback execution path is in use. Never raised to the
	// end user as a failure.
	SandboxUnavailable Kind = "sandbox_unavailable"
	// CompactionFailed is non-fatal: the turn proceeds with un-compacted
	// history and a warning is logged.
	CompactionFailed Kind = "compaction_failed"
)

// Error is a classified error: a stable Kind plus a human message and an
// optional wrapped cause. Error implements errors.Is/As through Unwrap so
// callers can test for a Kind with errors.As and a *Error target, or compare
// the Kind field directly after extraction.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a message. Use when the
// failure does not wrap an underlying error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an Error of the given kind that wraps cause. If message is
// empty, the cause's message is reused.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Errorf formats a message and returns a classified Error of the given kind.
func Errorf(kind Kind, format string, args ...any) *Error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, supporting errors.Is/As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is a *Error with the same Kind. This lets
// callers write errors.Is(err, errkind.New(errkind.ToolNotFound, "")) without
// caring about the message.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return other.Kind == e.Kind
}

// Of extracts the Kind from err if it is (or wraps) an *Error, returning ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
