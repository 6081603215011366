// Package rerr defines the closed error taxonomy shared across the
// execution pipeline (§7 of the design: job queue retry policy, the MCP
// reconnection policy, and the error sanitizer all classify against the
// same Kind enum instead of inventing their own).
package rerr

import (
	"errors"
	"fmt"
)

// Kind is a closed classification of error causes. It is never extended
// at runtime; new causes get a new Kind here.
type Kind int

const (
	KindUnknown Kind = iota
	KindTransport
	KindTimeout
	KindValidation
	KindAuth
	KindNotFound
	KindInternal
	KindJSCompile
	KindJSRuntime
	KindJSTyped
	KindWorkerCrashed
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "Transport"
	case KindTimeout:
		return "Timeout"
	case KindValidation:
		return "Validation"
	case KindAuth:
		return "Auth"
	case KindNotFound:
		return "NotFound"
	case KindInternal:
		return "Internal"
	case KindJSCompile:
		return "JsRuntime.Compile"
	case KindJSRuntime:
		return "JsRuntime.Runtime"
	case KindJSTyped:
		return "JsRuntime.TypedJs"
	case KindWorkerCrashed:
		return "WorkerCrashed"
	case KindConfiguration:
		return "Configuration"
	default:
		return "Unknown"
	}
}

// Retryable reports whether an error of this kind is, by default,
// retryable per the taxonomy in spec §7. KindInternal is only
// conditionally retryable (transient assertion failures); callers that
// know the failure was transient should wrap with WithRetryable(true).
func (k Kind) Retryable() bool {
	switch k {
	case KindTransport, KindTimeout, KindWorkerCrashed:
		return true
	default:
		return false
	}
}

// Error is the structured error type threaded through the coordinator.
// Workers translate JS throws into an Error with KindJSTyped and an
// attached Data payload; the coordinator never loses the Kind when an
// error crosses a package boundary (unlike a bare fmt.Errorf chain).
type Error struct {
	Kind      Kind
	Message   string
	Data      any
	retryable *bool
	cause     error
}

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an Error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Kind to an arbitrary error, preserving it as the cause.
func Wrap(kind Kind, cause error) *Error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: cause.Error(), cause: cause}
}

// WithData attaches structured data (used for JsRuntime.TypedJs errors
// carrying the `{type, message, data}` payload a task threw).
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// WithRetryable overrides the kind's default retryability, e.g. to mark
// a particular KindInternal occurrence as transient.
func (e *Error) WithRetryable(v bool) *Error {
	e.retryable = &v
	return e
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Retryable reports whether this specific error instance should be
// retried, honoring any explicit override.
func (e *Error) Retryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	return e.Kind.Retryable()
}

// KindOf extracts the Kind from err, walking the Unwrap chain. Errors
// that never passed through this package classify as KindInternal.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if err == nil {
		return KindUnknown
	}
	return KindInternal
}

// IsRetryable reports whether err should be retried per the taxonomy.
func IsRetryable(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// Sentinel errors used by name across packages (distinct from the typed
// taxonomy above — these identify a specific condition, not a category).
var (
	// ErrAlreadyShuttingDown is returned by a second concurrent call to
	// the shutdown coordinator's Shutdown method (§4.10).
	ErrAlreadyShuttingDown = errors.New("shutdown already in progress")
	// ErrNotImplemented marks an output delivery sink intentionally left
	// as a stub (webhook/S3/DB — out of core scope per §1).
	ErrNotImplemented = errors.New("not implemented")
)
