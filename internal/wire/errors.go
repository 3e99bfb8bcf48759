package wire

import (
	"errors"
	"fmt"
)

// Code is the taxonomy of protocol-level error codes. Each carries a
// documented session effect (close vs keep-open) applied by the server
// session and interpreted by the client runtime.
type Code string

const (
	CodeBadRequest                Code = "bad_request"
	CodeProtocolVersionUnsupported Code = "protocol_version_unsupported"
	CodeAuthFailed                Code = "auth_failed"
	CodeForbidden                 Code = "forbidden"
	CodeValidationFailed          Code = "validation_failed"
	CodeRateLimited               Code = "rate_limited"
	CodeServerError               Code = "server_error"
	CodeBadServerMessage          Code = "bad_server_message"  // client-side only
	CodeClientRuntimeError        Code = "client_runtime_error" // client-side only
)

// CloseOnDefault reports whether this code closes the session under the
// server's default policy (rate_limited and oversize-envelope are
// deployment-configurable and are not covered here).
func (c Code) CloseOnDefault() bool {
	switch c {
	case CodeProtocolVersionUnsupported, CodeAuthFailed, CodeServerError:
		return true
	default:
		return false
	}
}

// Error is a protocol-taxonomy error, the type flowing through the
// session's submit pipeline and surfaced either at the top level (error
// message) or nested inside a submit_events_result entry.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func NewValidationError(field, message string) *Error {
	return &Error{
		Code:    CodeValidationFailed,
		Message: message,
		Details: map[string]any{"field": field},
	}
}

// AsWireError unwraps err into a *Error, if it is (or wraps) one.
func AsWireError(err error) (*Error, bool) {
	var werr *Error
	if errors.As(err, &werr) {
		return werr, true
	}
	return nil, false
}
