// Package adjerr defines the error taxonomy shared by every Adjutant
// component. Components return *Error values carrying a stable code;
// transport layers (HTTP, MCP) translate codes to wire envelopes.
package adjerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies an error class. Codes are part of the wire contract and
// must not be renamed.
type Code string

const (
	CodeValidation     Code = "VALIDATION_ERROR"
	CodeInvalidArg     Code = "INVALID_ARGUMENT"
	CodeNotFound       Code = "NOT_FOUND"
	CodeAlreadyExists  Code = "ALREADY_EXISTS"
	CodeAlreadyRunning Code = "ALREADY_RUNNING"
	CodeAlreadyStopped Code = "ALREADY_STOPPED"
	CodeNotSupported   Code = "NOT_SUPPORTED"
	CodeUnauthorized   Code = "UNAUTHORIZED"
	CodeStorage        Code = "STORAGE_ERROR"
	CodeSubprocess     Code = "SUBPROCESS_ERROR"
	CodeUpstream       Code = "UPSTREAM_ERROR"
	CodeTimeout        Code = "TIMEOUT"
	CodeInternal       Code = "INTERNAL_ERROR"
)

// Error is a classified error. Message is safe to surface to clients;
// Err holds the underlying cause for logs.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf is New with Sprintf formatting.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies an underlying error. A nil err returns nil so callers can
// wrap unconditionally.
func Wrap(code Code, err error, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// CodeOf extracts the code from err, walking the wrap chain. Unclassified
// errors report INTERNAL_ERROR; nil reports an empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message for err. Unclassified errors
// fall back to err.Error().
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

// HTTPStatus maps a code to the HTTP status the REST layer responds with.
func HTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeInvalidArg:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists, CodeAlreadyRunning, CodeAlreadyStopped:
		return http.StatusConflict
	case CodeNotSupported:
		return http.StatusNotImplemented
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
