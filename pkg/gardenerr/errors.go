// Package gardenerr provides the classified error type shared across the
// orchestrator core. It mirrors the error taxonomy every other subsystem
// reports through: Configuration, Template, Plugin, Dependency, Runtime,
// NotReady, Cancelled, Internal.
package gardenerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation and retry decisions.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindTemplate      Kind = "template"
	KindPlugin        Kind = "plugin"
	KindDependency    Kind = "dependency"
	KindRuntime       Kind = "runtime"
	KindNotReady      Kind = "not_ready"
	KindCancelled     Kind = "cancelled"
	KindInternal      Kind = "internal"
)

// Error is a classified error with enough context to be reported verbatim
// to a user: kind, offending entity, upstream cause, and an actionable hint.
type Error struct {
	Kind Kind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional machine-readable error code (e.g. "CircularReference").
	Code string `json:"code,omitempty"`

	// Entity is the offending entity path (e.g. "modules.a.build" or a file path + key).
	Entity string `json:"entity,omitempty"`

	// Hint is one actionable suggestion for resolving the error.
	Hint string `json:"hint,omitempty"`

	// Err is the underlying cause, if any.
	Err error `json:"-"`

	// Details carries structured context (resolution trail, cycle path, etc).
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Entity != "" {
		msg += fmt.Sprintf(" (entity=%s)", e.Entity)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Hint != "" {
		msg += " — " + e.Hint
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is; two *Error values
// are equivalent if they share a Kind and Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// New creates a classified error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a classified error wrapping an underlying cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// WithCode sets the machine-readable code and returns the receiver.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithEntity sets the offending entity path and returns the receiver.
func (e *Error) WithEntity(entity string) *Error {
	e.Entity = entity
	return e
}

// WithHint sets the actionable hint and returns the receiver.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// WithDetail attaches a structured detail field and returns the receiver.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Is reports whether err is a classified error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsRetryable reports whether a handler invocation that failed with err
// should be retried. Only Runtime failures are retryable; everything else
// (Configuration, Template, Plugin, Dependency, NotReady, Cancelled,
// Internal) is not, since retrying them cannot change the outcome.
func IsRetryable(err error) bool {
	return Is(err, KindRuntime)
}

// Common error codes used across packages, matching the concrete failure
// names spec.md calls out (CircularReference, MultipleCreators, ...).
const (
	CodeCircularReference        = "CircularReference"
	CodeUnresolvedReference      = "UnresolvedReference"
	CodeUnresolvedRuntimeRef     = "UnresolvedRuntimeReference"
	CodeValidation               = "ValidationError"
	CodeMultipleCreators         = "MultipleCreators"
	CodeExtendWithoutDeclare     = "ExtendWithoutDeclare"
	CodeExtendWithoutDep         = "ExtendWithoutDep"
	CodeMissingBase              = "MissingBase"
	CodeCircularBases            = "CircularBases"
	CodeCircularDeps             = "CircularDeps"
	CodeDuplicateModule          = "DuplicateModule"
	CodeNoHandler                = "NoHandler"
	CodeNotReady                 = "NotReady"
	CodeTimeout                  = "Timeout"
	CodeDependencyFailed         = "DependencyFailed"
	CodeUnknownModuleType        = "UnknownModuleType"
	CodeMissingDependency        = "MissingDependency"
)
