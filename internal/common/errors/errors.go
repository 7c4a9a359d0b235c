// Package errors provides typed application errors for the agentmesh platform.
// Each failure class the core can produce maps to exactly one code, so callers
// can branch on errors.As without string matching.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes, one per failure class.
const (
	CodeNotFound             = "NOT_FOUND"
	CodeInvalidConfig        = "INVALID_CONFIG"
	CodeInstanceMissing      = "INSTANCE_MISSING"
	CodeAuthFailed           = "AUTH_FAILED"
	CodePermissionDenied     = "PERMISSION_DENIED"
	CodePreCheckFailed       = "PRE_CHECK_FAILED"
	CodeClarificationNeeded  = "CLARIFICATION_NEEDED"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeTransport            = "TRANSPORT_ERROR"
	CodeTimeout              = "TIMEOUT"
	CodeInternal             = "INTERNAL_ERROR"
)

// AppError is an application error with a stable code and an HTTP mapping.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"http_status"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Err
}

// NotFound reports an unknown agent or task id.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// InvalidConfig reports an agent descriptor that fails validation.
func InvalidConfig(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidConfig,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// InstanceMissing reports an internal agent registered without an invocable
// reference.
func InstanceMissing(agentID string) *AppError {
	return &AppError{
		Code:       CodeInstanceMissing,
		Message:    fmt.Sprintf("internal agent %q has no registered instance", agentID),
		HTTPStatus: http.StatusInternalServerError,
	}
}

// AuthFailed reports a verifier rejection.
func AuthFailed(reason string) *AppError {
	return &AppError{
		Code:       CodeAuthFailed,
		Message:    reason,
		HTTPStatus: http.StatusUnauthorized,
	}
}

// PermissionDenied reports a ResourceGuard or security-agent rejection.
func PermissionDenied(reason string) *AppError {
	return &AppError{
		Code:       CodePermissionDenied,
		Message:    reason,
		HTTPStatus: http.StatusForbidden,
	}
}

// PreCheckFailed reports a schema, bound, or enumeration violation.
func PreCheckFailed(message string) *AppError {
	return &AppError{
		Code:       CodePreCheckFailed,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// ClarificationNeeded signals the analyzer wants more information. It is a
// distinct response shape rather than a user-facing failure, but flows through
// error returns so the pipeline can short-circuit.
func ClarificationNeeded(question string) *AppError {
	return &AppError{
		Code:       CodeClarificationNeeded,
		Message:    question,
		HTTPStatus: http.StatusOK,
	}
}

// ConfirmationRequired signals a high-risk operation awaiting a second call.
func ConfirmationRequired(reason string) *AppError {
	return &AppError{
		Code:       CodeConfirmationRequired,
		Message:    reason,
		HTTPStatus: http.StatusAccepted,
	}
}

// Transport reports a protocol-level failure: network error, non-success HTTP
// status, or MCP error.
func Transport(message string, err error) *AppError {
	return &AppError{
		Code:       CodeTransport,
		Message:    message,
		HTTPStatus: http.StatusBadGateway,
		Err:        err,
	}
}

// Timeout reports a per-call or per-task deadline being exceeded.
func Timeout(message string) *AppError {
	return &AppError{
		Code:       CodeTimeout,
		Message:    message,
		HTTPStatus: http.StatusGatewayTimeout,
	}
}

// Internal reports anything else; the cause is preserved for logging.
func Internal(message string, err error) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// Wrap wraps an existing error with additional context, preserving the code
// and status of an AppError cause.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}

	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// CodeOf returns the application code for an error, or CodeInternal when the
// error carries no code.
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// Is reports whether the error carries the given code.
func Is(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return Is(err, CodeNotFound)
}

// GetHTTPStatus returns the HTTP status code for an error. Unknown errors map
// to 500.
func GetHTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
