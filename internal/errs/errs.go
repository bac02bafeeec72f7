// Package errs implements the error taxonomy from spec §7: typed errors
// surfaced to callers, distinguished from internal failures that are logged
// and swallowed (NonFatalBackground).
package errs

import "fmt"

// Kind classifies an error per spec §7's taxonomy table.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindStorageFailure    Kind = "StorageFailure"
	KindNotFound          Kind = "NotFound"
	KindLockFailure       Kind = "LockFailure"
	KindConflictDetected  Kind = "ConflictDetected"
	KindTransport         Kind = "TransportError"
	KindTimeout           Kind = "Timeout"
	KindConnectionClosed  Kind = "ConnectionClosed"
)

// Error is the typed error carried across package boundaries. It wraps an
// optional underlying cause so %w-style unwrapping still works.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Message: msg} }

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Validation is a convenience constructor for KindValidation.
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// NotFound is a convenience constructor for KindNotFound.
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf(format, args...))
}

// StorageFailure is a convenience constructor for KindStorageFailure.
func StorageFailure(msg string, cause error) *Error {
	return Wrap(KindStorageFailure, msg, cause)
}

// Is reports whether err is a titan *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if ae, ok := err.(*Error); ok {
		e = ae
	} else {
		return false
	}
	return e.Kind == kind
}
