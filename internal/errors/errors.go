// Package errors defines the typed errors shared across the composer services.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for callers and for HTTP mapping.
type Code string

const (
	CodeNotFound         Code = "not_found"
	CodeValidation       Code = "validation_error"
	CodePermissionDenied Code = "permission_denied"
	CodeStoreUnavailable Code = "store_unavailable"
	CodeUnauthorized     Code = "unauthorized"
	CodeInternal         Code = "internal"
)

// Error is the service-level error type. It wraps an optional cause and
// carries a stable code so handlers can map it without string matching.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error code to an HTTP status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the operation unchanged.
func (e *Error) Retryable() bool {
	return e.Code == CodeStoreUnavailable
}

// NotFound builds a not-found error for a named resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

// Validation builds a validation error.
func Validation(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// PermissionDenied builds an authorization failure.
func PermissionDenied(format string, args ...any) *Error {
	return &Error{Code: CodePermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// Unauthorized builds an authentication failure.
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Message: message}
}

// StoreUnavailable wraps a persistence/transport failure as retryable.
func StoreUnavailable(cause error) *Error {
	return &Error{Code: CodeStoreUnavailable, Message: "store unavailable", Cause: cause}
}

// Internal wraps an unexpected failure.
func Internal(cause error) *Error {
	return &Error{Code: CodeInternal, Message: "internal error", Cause: cause}
}

// CodeOf extracts the code from err, walking the wrap chain. Unknown errors
// report CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	return CodeOf(err) == CodeValidation
}

// IsPermissionDenied reports whether err is an authorization failure.
func IsPermissionDenied(err error) bool {
	return CodeOf(err) == CodePermissionDenied
}

// IsRetryable reports whether err is worth retrying unchanged.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}
