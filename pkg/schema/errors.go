package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeExecution         = "EXECUTION_ERROR"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeInvalidTransition = "INVALID_TRANSITION"
	ErrCodeCycleDetected     = "CYCLE_DETECTED"
	ErrCodeNodeFailed        = "NODE_FAILED"
	ErrCodeCancelled         = "CANCELLED"
	ErrCodeStore             = "STORE_ERROR"

	// Variable addressing and assignment.
	ErrCodeInvalidSelector  = "INVALID_SELECTOR"
	ErrCodeResolution       = "RESOLUTION_ERROR"
	ErrCodeUnsupportedMode  = "UNSUPPORTED_MODE"
	ErrCodeAppendOnNonArray = "APPEND_ON_NON_ARRAY"
	ErrCodeTypeMismatch     = "TYPE_MISMATCH"
)

// VarflowError is the structured error type for all engine operations.
type VarflowError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *VarflowError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *VarflowError) Unwrap() error {
	return e.Cause
}

// NewError creates a new VarflowError.
func NewError(code, message string) *VarflowError {
	return &VarflowError{Code: code, Message: message}
}

// NewErrorf creates a new VarflowError with a formatted message.
func NewErrorf(code, format string, args ...any) *VarflowError {
	return &VarflowError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *VarflowError) WithNode(nodeID string) *VarflowError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *VarflowError) WithCause(err error) *VarflowError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *VarflowError) WithDetails(details map[string]any) *VarflowError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first VarflowError in err's chain,
// or ErrCodeExecution when there is none.
func CodeOf(err error) string {
	var verr *VarflowError
	if errors.As(err, &verr) {
		return verr.Code
	}
	return ErrCodeExecution
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	var verr *VarflowError
	return errors.As(err, &verr) && verr.Code == code
}
