// Package errors provides the standardized error taxonomy shared by the
// backend client, the approval commands and the HTTP surface.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

const (
	// Backend route answered with its not-found sentinel.
	ErrCodeEndpointUnavailable ErrorCode = "ENDPOINT_UNAVAILABLE"
	// Backend answered a request with a non-2xx, non-404 status.
	ErrCodeServerRejected ErrorCode = "SERVER_REJECTED"
	// Request never completed.
	ErrCodeNetworkFailure ErrorCode = "NETWORK_FAILURE"
	// A notification references a parent that no longer exists.
	ErrCodeOrphanDataInconsistency ErrorCode = "ORPHAN_DATA_INCONSISTENCY"

	ErrCodeInvalidResponse     ErrorCode = "INVALID_RESPONSE"
	ErrCodeValidationFailed    ErrorCode = "VALIDATION_FAILED"
	ErrCodeOverrideStoreFailed ErrorCode = "OVERRIDE_STORE_FAILED"
	ErrCodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Cause     error                  `json:"-"`
}

func (e *StandardError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("StandardError[%s]: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.Cause
}

// Is matches any StandardError carrying the same code, so sentinels such as
// ErrEndpointUnavailable work with errors.Is.
func (e *StandardError) Is(target error) bool {
	t, ok := target.(*StandardError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithMetadata returns e after merging the given key/value pairs.
func (e *StandardError) WithMetadata(kv map[string]interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{}, len(kv))
	}
	for k, v := range kv {
		e.Metadata[k] = v
	}
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrEndpointUnavailable = &StandardError{Code: ErrCodeEndpointUnavailable}
	ErrServerRejected      = &StandardError{Code: ErrCodeServerRejected}
	ErrNetworkFailure      = &StandardError{Code: ErrCodeNetworkFailure}
	ErrInvalidResponse     = &StandardError{Code: ErrCodeInvalidResponse}
	ErrValidationFailed    = &StandardError{Code: ErrCodeValidationFailed}
)

// ==========================
// 2. Error Constructors
// ==========================

// NewEndpointUnavailableError reports a 404 from the backend.
func NewEndpointUnavailableError(method, path string) *StandardError {
	return &StandardError{
		Code:      ErrCodeEndpointUnavailable,
		Message:   "Backend endpoint not available",
		Details:   fmt.Sprintf("%s %s returned 404", method, path),
		Retryable: false,
		Metadata:  map[string]interface{}{"status": http.StatusNotFound},
		Timestamp: time.Now().UTC(),
	}
}

// NewServerRejectedError reports an unexpected status from the backend.
func NewServerRejectedError(method, path string, status int) *StandardError {
	return &StandardError{
		Code:      ErrCodeServerRejected,
		Message:   "Backend rejected the request",
		Details:   fmt.Sprintf("%s %s returned %d", method, path, status),
		Retryable: status >= http.StatusInternalServerError,
		Metadata:  map[string]interface{}{"status": status},
		Timestamp: time.Now().UTC(),
	}
}

// NewNetworkFailureError reports a request that could not complete.
func NewNetworkFailureError(method, path string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNetworkFailure,
		Message:   "Backend request failed",
		Details:   fmt.Sprintf("%s %s: %v", method, path, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewOrphanDataInconsistencyError describes a notification whose parent is gone.
func NewOrphanDataInconsistencyError(notificationID, parentID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeOrphanDataInconsistency,
		Message:   "Notification references a missing parent",
		Details:   fmt.Sprintf("notification: %s, parent: %q", notificationID, parentID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidResponseError reports a body that does not match its schema.
func NewInvalidResponseError(path string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidResponse,
		Message:   "Backend response did not match the expected schema",
		Details:   fmt.Sprintf("%s: %v", path, err),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// NewValidationError reports bad caller input.
func NewValidationError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Invalid request",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewOverrideStoreError reports a failing local override store.
func NewOverrideStoreError(op string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeOverrideStoreFailed,
		Message:   "Local override store operation failed",
		Details:   fmt.Sprintf("%s: %v", op, err),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		Cause:     err,
	}
}

// ==========================
// 3. Inspection Helpers
// ==========================

// As extracts a *StandardError from err's chain.
func As(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the code of the first StandardError in err's chain, or
// ErrCodeInternal.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := As(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether the error may succeed if retried manually.
func IsRetryable(err error) bool {
	if stdErr, ok := As(err); ok {
		return stdErr.Retryable
	}
	return false
}

// GetErrorCategory groups codes for logs and metrics.
func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "ENDPOINT") || strings.Contains(codeStr, "SERVER") || strings.Contains(codeStr, "NETWORK"):
		return "BACKEND"
	case strings.Contains(codeStr, "ORPHAN"):
		return "CONSISTENCY"
	case strings.Contains(codeStr, "OVERRIDE"):
		return "STORAGE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}

// HTTPStatus maps a code to the status returned by the HTTP surface.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeEndpointUnavailable:
		return http.StatusNotFound
	case ErrCodeServerRejected, ErrCodeNetworkFailure, ErrCodeInvalidResponse:
		return http.StatusBadGateway
	case ErrCodeOverrideStoreFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
