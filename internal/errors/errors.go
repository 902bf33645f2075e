// Package errors defines the service error type returned across package
// boundaries and mapped onto HTTP responses by the API layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies a ServiceError.
type ErrorCode string

const (
	CodeBadRequest      ErrorCode = "BAD_REQUEST"
	CodeValidation      ErrorCode = "VALIDATION_FAILED"
	CodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	CodeForbidden       ErrorCode = "FORBIDDEN"
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeConflict        ErrorCode = "CONFLICT"
	CodePaymentRequired ErrorCode = "PAYMENT_REQUIRED"
	CodeRateLimited     ErrorCode = "RATE_LIMIT_EXCEEDED"
	CodeInternal        ErrorCode = "INTERNAL_ERROR"
	CodeBadGateway      ErrorCode = "BAD_GATEWAY"
	CodeUnavailable     ErrorCode = "SERVICE_UNAVAILABLE"
)

// ServiceError carries an HTTP status, a machine readable code and optional
// details that are safe to return to callers.
type ServiceError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Reason     Reason
	Details    map[string]interface{}
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails adds a detail entry and returns the receiver.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithReason tags the error with a reason code.
func (e *ServiceError) WithReason(reason Reason) *ServiceError {
	e.Reason = reason
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

// BadRequest reports a malformed request.
func BadRequest(message string) *ServiceError {
	return newError(CodeBadRequest, http.StatusBadRequest, message, nil)
}

// Validation reports per-field validation failures.
func Validation(fields map[string]string) *ServiceError {
	e := newError(CodeValidation, http.StatusBadRequest, "Invalid body", nil)
	for k, v := range fields {
		e.WithDetails(k, v)
	}
	return e
}

// InvalidFormat reports a single malformed field.
func InvalidFormat(field, message string) *ServiceError {
	return Validation(map[string]string{field: message})
}

// Unauthorized reports missing or rejected credentials.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// InvalidToken reports a token that failed verification.
func InvalidToken(err error) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, "Invalid token", err)
}

// Forbidden reports an authenticated caller without permission.
func Forbidden(message string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, message, nil)
}

// NotFound reports a missing entity.
func NotFound(message string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, message, nil)
}

// Conflict reports a request that collides with existing state.
func Conflict(message string) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, message, nil)
}

// PaymentRequired reports an unmet on-chain funding precondition.
func PaymentRequired(reason Reason) *ServiceError {
	return newError(CodePaymentRequired, http.StatusPaymentRequired, string(reason), nil).WithReason(reason)
}

// RateLimitExceeded reports an exhausted client budget.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Internal wraps an unexpected failure. The message is never the wrapped
// error's text.
func Internal(message string, err error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, message, err)
}

// BadGateway reports a failing upstream such as the chain RPC.
func BadGateway(message string, err error) *ServiceError {
	return newError(CodeBadGateway, http.StatusBadGateway, message, err)
}

// Unavailable reports a dependency that is not configured.
func Unavailable(message string) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, nil)
}

// GetServiceError returns the ServiceError in err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}
	return nil
}

// HasReason reports whether err carries the given reason.
func HasReason(err error, reason Reason) bool {
	se := GetServiceError(err)
	return se != nil && se.Reason == reason
}
