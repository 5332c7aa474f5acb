package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a stable, machine-readable error code.
type ErrorCode string

// Task lifecycle error codes
const (
	ErrTaskNotFound         ErrorCode = "TASK_NOT_FOUND"
	ErrTaskExpired          ErrorCode = "TASK_EXPIRED"
	ErrTaskAlreadyRunning   ErrorCode = "TASK_ALREADY_RUNNING"
	ErrTaskAlreadyCompleted ErrorCode = "TASK_ALREADY_COMPLETED"
	ErrPayloadTooLarge      ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrInvalidTaskType      ErrorCode = "INVALID_TASK_TYPE"
	ErrInvalidEngine        ErrorCode = "INVALID_ENGINE"
	ErrInvalidRequest       ErrorCode = "INVALID_REQUEST"
)

// Loop prevention error codes
const (
	ErrLoopDetected   ErrorCode = "LOOP_DETECTED"
	ErrDepthExceeded  ErrorCode = "DEPTH_EXCEEDED"
	ErrChainTooLong   ErrorCode = "CHAIN_TOO_LONG"
	ErrBlockedPattern ErrorCode = "BLOCKED_PATTERN"
)

// Execution and infrastructure error codes
const (
	ErrExecutionTimeout ErrorCode = "EXECUTION_TIMEOUT"
	ErrExecutionFailed  ErrorCode = "EXECUTION_FAILED"
	ErrStoreError       ErrorCode = "STORE_ERROR"
	ErrCompressionError ErrorCode = "COMPRESSION_ERROR"
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"
	ErrRateLimited      ErrorCode = "RATE_LIMITED"
	ErrInternalError    ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Retryable  bool           `json:"retryable"`
	Cause      error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Errorf creates a new Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithDetail attaches a single structured detail.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges structured details into the error.
func (e *Error) WithDetails(details map[string]any) *Error {
	for k, v := range details {
		e.WithDetail(k, v)
	}
	return e
}

// WithHTTPStatus sets the HTTP status code.
func (e *Error) WithHTTPStatus(status int) *Error {
	e.HTTPStatus = status
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// LoopError is returned by the loop guard. It carries the call chain that
// would have been produced so callers can log the exact cycle.
type LoopError struct {
	Base      *Error   `json:"error"`
	CallChain []string `json:"call_chain"`
}

// NewLoopError creates a loop-prevention error for the given chain.
func NewLoopError(code ErrorCode, message string, chain []string) *LoopError {
	cp := make([]string, len(chain))
	copy(cp, chain)
	return &LoopError{
		Base:      NewError(code, message).WithDetail("call_chain", cp),
		CallChain: cp,
	}
}

// Error implements the error interface.
func (e *LoopError) Error() string {
	return e.Base.Error()
}

// Code returns the loop-prevention code.
func (e *LoopError) Code() ErrorCode {
	return e.Base.Code
}

// Unwrap exposes the base *Error so errors.As works for both types.
func (e *LoopError) Unwrap() error {
	return e.Base
}

// AsError extracts a *Error from any error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// AsLoopError extracts a *LoopError from any error chain.
func AsLoopError(err error) (*LoopError, bool) {
	var e *LoopError
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := AsError(err); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// IsErrorCode reports whether err carries the given code.
func IsErrorCode(err error, code ErrorCode) bool {
	return GetErrorCode(err) == code
}

// IsLoopCode reports whether code belongs to the loop-prevention family.
func IsLoopCode(code ErrorCode) bool {
	switch code {
	case ErrLoopDetected, ErrDepthExceeded, ErrChainTooLong, ErrBlockedPattern:
		return true
	}
	return false
}
