// Package apperrors provides the structured error type shared by the history
// service, the pollers and the HTTP layer. Every error carries a kind and a
// stable machine-readable code that API clients can switch on.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies errors by how callers are expected to react to them.
type Kind string

const (
	KindConfigurationBlocked Kind = "CONFIGURATION_BLOCKED"
	KindSessionRequired      Kind = "SESSION_REQUIRED"
	KindValidation           Kind = "VALIDATION_FAILED"
	KindPersistence          Kind = "PERSISTENCE_FAILURE"
	KindExternalAPI          Kind = "EXTERNAL_API_FAILURE"
	KindConflict             Kind = "CONFLICT"
	KindInternal             Kind = "INTERNAL"
)

// Codes returned in API error bodies.
const (
	CodeConfigurationBlocked = "configuration_blocked"
	CodeSessionRequired      = "session_required"
	CodeValidation           = "validation_error"
	CodePersistence          = "persistence_failure"
	CodeExternalAPI          = "external_api_failure"
	CodeNoOpenSegment        = "no_open_segment"
	CodeSampleOutOfOrder     = "sample_out_of_order"
	CodeInternal             = "internal_error"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Kind, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether the target has the same kind and code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind && e.Code == t.Code
	}
	return false
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

func Blocked(message string) *Error {
	return New(KindConfigurationBlocked, CodeConfigurationBlocked, message)
}

func SessionRequired() *Error {
	return New(KindSessionRequired, CodeSessionRequired, "a resolved tenant session is required")
}

func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

func Persistence(message string, cause error) *Error {
	return Wrap(KindPersistence, CodePersistence, message, cause)
}

func ExternalAPI(message string, cause error) *Error {
	return Wrap(KindExternalAPI, CodeExternalAPI, message, cause)
}

// KindOf extracts the kind from an error chain, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInternal
}

// CodeOf extracts the API code from an error chain.
func CodeOf(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status code the API answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindConfigurationBlocked:
		return http.StatusForbidden
	case KindSessionRequired:
		return http.StatusUnauthorized
	case KindValidation:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindExternalAPI:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns a message safe to expose to API clients.
func PublicMessage(err error) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	return "internal server error"
}
