// Package ferrors defines the error taxonomy shared across the orchestration
// engine: typed failures that cross component boundaries (tool-server client,
// sandbox, orchestrator) carrying enough structure to become either a
// tool_result block shown to the LM or a terminal stream event shown to the
// client.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind categorizes a Error for dispatch and logging.
type Kind string

const (
	KindValidation       Kind = "ValidationError"
	KindTransport        Kind = "TransportError"
	KindProtocol         Kind = "ProtocolError"
	KindResponseTooLarge Kind = "ResponseTooLarge"
	KindTimeout          Kind = "Timeout"
	KindCallLimit        Kind = "CallLimitExceeded"
	KindBudgetExceeded   Kind = "BudgetExceeded"
	KindServerUnhealthy  Kind = "ServerUnhealthy"
	KindExecution        Kind = "ExecutionError"
	KindCancelled        Kind = "Cancelled"
	KindUnknownTool      Kind = "UnknownTool"
)

// Error is the common shape for all taxonomy members. Fields beyond Kind and
// Message are populated selectively depending on Kind.
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// HTTPStatus is set for TransportError variants carrying a status code.
	HTTPStatus int
	// Code is set for ProtocolError (JSON-RPC error.code).
	Code int
	// Actual/Limit are set for ResponseTooLarge and BudgetExceeded.
	Actual int
	Limit  int
	// Suggestion is a human-readable hint surfaced alongside CallLimitExceeded.
	Suggestion string
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target shares this error's Kind, so callers can write
// errors.Is(err, ferrors.Error{Kind: ferrors.KindTimeout}).
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func Transport(status int, cause error) *Error {
	msg := "transport failure"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindTransport, Message: msg, Cause: cause, HTTPStatus: status}
}

func Protocol(code int, message string) *Error {
	return &Error{Kind: KindProtocol, Message: message, Code: code}
}

func ResponseTooLarge(actual, limit int) *Error {
	return &Error{
		Kind:    KindResponseTooLarge,
		Message: fmt.Sprintf("response of %d bytes exceeds limit of %d bytes", actual, limit),
		Actual:  actual,
		Limit:   limit,
	}
}

func Timeout(message string) *Error {
	return &Error{Kind: KindTimeout, Message: message}
}

func CallLimitExceeded(made, limit int) *Error {
	return &Error{
		Kind:       KindCallLimit,
		Message:    fmt.Sprintf("sandbox re-entry limit exceeded: made %d of %d allowed", made, limit),
		Actual:     made,
		Limit:      limit,
		Suggestion: "reduce the number of tool calls made from within execute_code, or split the work across multiple iterations",
	}
}

func BudgetExceeded(actual, limit int) *Error {
	return &Error{
		Kind:    KindBudgetExceeded,
		Message: fmt.Sprintf("downstream call budget exhausted: %d of %d used", actual, limit),
		Actual:  actual,
		Limit:   limit,
	}
}

func ServerUnhealthy(serverID string) *Error {
	return &Error{Kind: KindServerUnhealthy, Message: fmt.Sprintf("server %q is unhealthy", serverID)}
}

func Execution(message string) *Error {
	return &Error{Kind: KindExecution, Message: message}
}

func Cancelled(message string) *Error {
	return &Error{Kind: KindCancelled, Message: message}
}

func UnknownTool(name string) *Error {
	return &Error{Kind: KindUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}
}

// As extracts the first *Error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
