package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"
	ErrCodeTokenExpired ErrorCode = "TOKEN_EXPIRED"
	ErrCodeInvalidCode  ErrorCode = "INVALID_CODE"

	// Validation
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrCodeQueueFull         ErrorCode = "QUEUE_FULL"
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// Rate Limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Backend
	ErrCodeBackendUnavailable     ErrorCode = "BACKEND_UNAVAILABLE"
	ErrCodeBackendMisconfigured   ErrorCode = "BACKEND_MISCONFIGURED"
	ErrCodeBackendInvalidResponse ErrorCode = "BACKEND_INVALID_RESPONSE"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeStorage  ErrorCode = "STORAGE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func TokenExpired() *AppError {
	return New(ErrCodeTokenExpired, "Session token has expired, please log in again")
}

func InvalidCode() *AppError {
	return New(ErrCodeInvalidCode, "Invalid or expired verification code")
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func QueueFull(userID string, max int) *AppError {
	return New(ErrCodeQueueFull, fmt.Sprintf("Queue is full (%d outstanding requests); wait for jobs to finish or run cleanup", max)).
		WithDetails(map[string]any{"userId": userID, "max": max})
}

func InvalidTransition(requestID string, from, to string) *AppError {
	return New(ErrCodeInvalidTransition, fmt.Sprintf("Request %s cannot move from %s to %s", requestID, from, to)).
		WithDetails(map[string]any{"requestId": requestID, "from": from, "to": to})
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func BackendUnavailable(target string, cause error) *AppError {
	return Wrap(ErrCodeBackendUnavailable, fmt.Sprintf("Analysis backend at %s is unreachable", target), cause)
}

// BackendMisconfigured reports which backend settings are absent.
func BackendMisconfigured(missing []string) *AppError {
	return New(ErrCodeBackendMisconfigured, "Analysis backend is not configured").
		WithDetails(map[string]any{
			"missing": missing,
			"hint":    "Set the listed environment variables on the gateway and restart it",
		})
}

func BackendInvalidResponse(message string) *AppError {
	return New(ErrCodeBackendInvalidResponse, message)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Storage(cause error) *AppError {
	return Wrap(ErrCodeStorage, "Storage error", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
