package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeRecipeDisabled    = "RECIPE_DISABLED"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeProvider          = "PROVIDER_ERROR"
	ErrCodeTimeout           = "TIMEOUT_ERROR"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"
	ErrCodeQueueFull         = "QUEUE_FULL"
	ErrCodeCircuitOpen       = "CIRCUIT_OPEN"
	ErrCodeNonRetryable      = "NON_RETRYABLE"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
)

// EngineError is the structured error type shared by every engine layer.
type EngineError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	RunID   string         `json:"run_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *EngineError) Error() string {
	if e.RunID != "" {
		return fmt.Sprintf("[%s] run %s: %s", e.Code, e.RunID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether an operation that failed with this error may succeed if repeated.
func (e *EngineError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeValidation, ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidTransition,
		ErrCodeRecipeDisabled, ErrCodeCancelled, ErrCodeCircuitOpen, ErrCodeNonRetryable,
		ErrCodeUnauthorized:
		return false
	default:
		return true
	}
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithRun attaches a run ID to the error.
func (e *EngineError) WithRun(runID string) *EngineError {
	e.RunID = runID
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}

// ErrorCode returns the code of the first EngineError in err's chain, or "".
func ErrorCode(err error) string {
	var engErr *EngineError
	if errors.As(err, &engErr) {
		return engErr.Code
	}
	return ""
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}
