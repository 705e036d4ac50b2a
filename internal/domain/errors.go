package domain

import (
	"fmt"
	"time"
)

// ============================================================
// Surface error taxonomy
// ============================================================

// ErrorCode is the closed set of failure classes an adapter may report.
type ErrorCode string

const (
	CodeRateLimited        ErrorCode = "rate_limited"
	CodeAuthFailed         ErrorCode = "auth_failed"
	CodeTimeout            ErrorCode = "timeout"
	CodeNetworkError       ErrorCode = "network_error"
	CodeInvalidResponse    ErrorCode = "invalid_response"
	CodeContentBlocked     ErrorCode = "content_blocked"
	CodeServiceUnavailable ErrorCode = "service_unavailable"
	CodeQuotaExceeded      ErrorCode = "quota_exceeded"
	CodeInvalidRequest     ErrorCode = "invalid_request"
	CodeSessionExpired     ErrorCode = "session_expired"
	CodeCaptchaRequired    ErrorCode = "captcha_required"
	CodeUnknown            ErrorCode = "unknown"

	// Execution-layer codes, produced by providers rather than adapters.
	CodeUnsupportedSurface ErrorCode = "UNSUPPORTED_SURFACE"
	CodeExecutionError     ErrorCode = "EXECUTION_ERROR"
)

// SurfaceError is a classified failure. It never carries a stack dump;
// Cause keeps the original error for logs and errors.Is/As.
type SurfaceError struct {
	Code         ErrorCode `json:"code"`
	Message      string    `json:"message"`
	Retryable    bool      `json:"retryable"`
	RetryAfterMs int64     `json:"retryAfterMs,omitempty"`
	Cause        error     `json:"-"`
}

func (e *SurfaceError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SurfaceError) Unwrap() error {
	return e.Cause
}

// RetryAfter returns the suggested delay before the next attempt.
func (e *SurfaceError) RetryAfter() time.Duration {
	if e == nil {
		return 0
	}
	return time.Duration(e.RetryAfterMs) * time.Millisecond
}

// NewSurfaceError builds a SurfaceError.
func NewSurfaceError(code ErrorCode, msg string, retryable bool, retryAfter time.Duration, cause error) *SurfaceError {
	return &SurfaceError{
		Code:         code,
		Message:      msg,
		Retryable:    retryable,
		RetryAfterMs: retryAfter.Milliseconds(),
		Cause:        cause,
	}
}

// ============================================================
// Service-level errors (operator API)
// ============================================================

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a validation error (bad input).
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrUnauthorized indicates invalid credentials or token.
type ErrUnauthorized struct {
	Message string
}

func (e *ErrUnauthorized) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "unauthorized"
}

// ErrDuplicate indicates a second registration under the same key.
type ErrDuplicate struct {
	Key string
}

func (e *ErrDuplicate) Error() string {
	return fmt.Sprintf("duplicate registration: %s", e.Key)
}

// ErrNoProvider indicates no registered provider supports a surface.
type ErrNoProvider struct {
	SurfaceID string
}

func (e *ErrNoProvider) Error() string {
	return fmt.Sprintf("no provider supports surface: %s", e.SurfaceID)
}
