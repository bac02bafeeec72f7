// Package errors defines the A2A error code taxonomy and recovery policy
// table.
package errors

import "fmt"

// Code is an A2A error code.
type Code string

const (
	CodeTimeout            Code = "TIMEOUT"
	CodeRateLimited        Code = "RATE_LIMITED"
	CodeLockFailed         Code = "LOCK_FAILED"
	CodeConnectionClosed   Code = "CONNECTION_CLOSED"
	CodeConflict           Code = "CONFLICT"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeInvalidMessage     Code = "INVALID_MESSAGE"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeNotFound           Code = "NOT_FOUND"
	CodeInvalidCapability  Code = "INVALID_CAPABILITY"
	CodeAgentNotRegistered Code = "AGENT_NOT_REGISTERED"
)

// recoverable holds each code's default recoverability.
var recoverable = map[Code]bool{
	CodeTimeout:            true,
	CodeRateLimited:        true,
	CodeLockFailed:         true,
	CodeConnectionClosed:   true,
	CodeConflict:           true,
	CodeInternalError:      true,
	CodeInvalidMessage:     false,
	CodeUnauthorized:       false,
	CodeNotFound:           false,
	CodeInvalidCapability:  false,
	CodeAgentNotRegistered: false,
}

// Recoverable reports whether code is recoverable by default.
func Recoverable(code Code) bool {
	return recoverable[code]
}

// Error is an A2A protocol error: `{code, message, details?, correlationId?,
// recoverable}`.
type Error struct {
	Code          Code
	Message       string
	Details       string
	CorrelationID string
	Recoverable   bool
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an Error with code's default recoverability.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Recoverable: Recoverable(code)}
}

// Wrap builds an Error carrying details from cause.
func Wrap(code Code, message string, cause error) *Error {
	e := New(code, message)
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// RetryPolicy describes how a client should recover from a given code.
type RetryPolicy struct {
	Retry       bool
	Reregister  bool
	Reconnect   bool
	BaseDelayMs int
	MaxAttempts int
}

// Policy returns the recovery policy for code.
func Policy(code Code) RetryPolicy {
	switch code {
	case CodeTimeout:
		return RetryPolicy{Retry: true, BaseDelayMs: 1000, MaxAttempts: 3}
	case CodeRateLimited:
		return RetryPolicy{Retry: true, MaxAttempts: 1}
	case CodeConnectionClosed:
		return RetryPolicy{Retry: true, Reconnect: true, MaxAttempts: 10}
	case CodeLockFailed:
		return RetryPolicy{Retry: true, BaseDelayMs: 500, MaxAttempts: 5}
	case CodeUnauthorized, CodeAgentNotRegistered:
		return RetryPolicy{Reregister: true}
	case CodeConflict:
		return RetryPolicy{Retry: true, BaseDelayMs: 100, MaxAttempts: 3}
	default:
		return RetryPolicy{}
	}
}
