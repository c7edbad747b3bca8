// Package errors defines the structured error model used across the shell
// host. Errors carry a stable code, an HTTP status for the API surface, and
// optional details for diagnostics.
package errors

import (
	goerrors "errors"
	"fmt"
	"net/http"
)

// Code identifies an error category.
type Code string

const (
	// CodeNotFound indicates a requested module or resource is unknown.
	CodeNotFound Code = "NOT_FOUND"

	// CodeActivationFailed indicates a module was located but could not
	// be instantiated.
	CodeActivationFailed Code = "ACTIVATION_FAILED"

	// CodeStorageFailure indicates a key-value store read or write failed.
	CodeStorageFailure Code = "STORAGE_FAILURE"

	// CodeTransportFailure indicates an outbound HTTP call failed or
	// returned a non-success status.
	CodeTransportFailure Code = "TRANSPORT_FAILURE"

	// CodeHandlerFailure indicates an event subscriber raised during dispatch.
	CodeHandlerFailure Code = "HANDLER_FAILURE"

	// CodeUnauthorized indicates missing or invalid credentials.
	CodeUnauthorized Code = "UNAUTHORIZED"

	// CodeRateLimited indicates the caller exceeded a rate limit.
	CodeRateLimited Code = "RATE_LIMITED"

	// CodeInvalidInput indicates a malformed request.
	CodeInvalidInput Code = "INVALID_INPUT"

	// CodeInternal indicates an unexpected internal failure.
	CodeInternal Code = "INTERNAL"
)

// ServiceError is the structured error returned across package boundaries.
type ServiceError struct {
	Code       Code
	Message    string
	HTTPStatus int
	Details    map[string]interface{}
	Err        error
}

// Error implements error.
func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a detail key/value and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NotFound constructs a not-found error.
func NotFound(what, name string) *ServiceError {
	return &ServiceError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %q not found", what, name),
		HTTPStatus: http.StatusNotFound,
	}
}

// ActivationFailed constructs a module activation error.
func ActivationFailed(module string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeActivationFailed,
		Message:    fmt.Sprintf("module %q activation failed", module),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// StorageFailure constructs a key-value storage error.
func StorageFailure(op string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeStorageFailure,
		Message:    fmt.Sprintf("storage %s failed", op),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// TransportFailure constructs an outbound transport error.
func TransportFailure(status int, body string) *ServiceError {
	return &ServiceError{
		Code:       CodeTransportFailure,
		Message:    fmt.Sprintf("upstream returned status %d", status),
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]interface{}{"upstream_status": status, "body": body},
	}
}

// HandlerFailure constructs an event handler dispatch error.
func HandlerFailure(kind string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeHandlerFailure,
		Message:    fmt.Sprintf("handler for %s failed", kind),
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Unauthorized constructs an authentication error.
func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "authentication required"
	}
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    message,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// InvalidToken constructs a token validation error.
func InvalidToken(err error) *ServiceError {
	return &ServiceError{
		Code:       CodeUnauthorized,
		Message:    "invalid token",
		HTTPStatus: http.StatusUnauthorized,
		Err:        err,
	}
}

// RateLimitExceeded constructs a rate limiting error.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return &ServiceError{
		Code:       CodeRateLimited,
		Message:    "rate limit exceeded",
		HTTPStatus: http.StatusTooManyRequests,
		Details:    map[string]interface{}{"limit": limit, "window": window},
	}
}

// InvalidInput constructs a bad-request error.
func InvalidInput(message string) *ServiceError {
	return &ServiceError{
		Code:       CodeInvalidInput,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Internal constructs an internal error wrapping a cause.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// GetServiceError returns the *ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if goerrors.As(err, &se) {
		return se
	}
	return nil
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	se := GetServiceError(err)
	return se != nil && se.Code == code
}
