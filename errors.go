package concierge

import "fmt"

// Error codes for specific failure types
const (
	ErrCodeValidation       = "SCHEMA_VALIDATION_FAILED"
	ErrCodeNotPermitted     = "NOT_PERMITTED"
	ErrCodeActionNotFound   = "ACTION_NOT_FOUND"
	ErrCodeMissingParameter = "MISSING_REQUIRED_PARAMETER"
	ErrCodeStepLimit        = "STEP_LIMIT_REACHED"
	ErrCodeTimeLimit        = "TIME_LIMIT_REACHED"
	ErrCodeHandlerFailure   = "HANDLER_FAILURE"
	ErrCodeProposer         = "PROPOSER_ERROR"
	ErrCodeArgResolution    = "ARGUMENT_RESOLUTION_ERROR"
	ErrCodeConfiguration    = "CONFIGURATION_ERROR"
	ErrCodeCancelled        = "EXECUTION_CANCELLED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// ConciergeError is the runtime's coded error type.
type ConciergeError struct {
	Code    string // machine-readable code (e.g. ErrCodeNotPermitted)
	Message string // human-readable message
	Stage   string // the stage where the error occurred (e.g. "resolving", "dispatching")
	Cause   error  // underlying error, if any
}

// Error implements the error interface.
func (e *ConciergeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Stage, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Stage, e.Code, e.Message)
}

// Unwrap returns the underlying cause, allowing error chaining.
func (e *ConciergeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ConciergeError.
func NewError(code, stage, message string, cause error) *ConciergeError {
	return &ConciergeError{
		Code:    code,
		Message: message,
		Stage:   stage,
		Cause:   cause,
	}
}

// IsConciergeError reports whether err is (or wraps) a ConciergeError.
func IsConciergeError(err error) bool {
	_, ok := err.(*ConciergeError)
	return ok
}

// CodeOf returns the error's machine code, or ErrCodeInternal for foreign
// errors.
func CodeOf(err error) string {
	if ce, ok := err.(*ConciergeError); ok {
		return ce.Code
	}
	return ErrCodeInternal
}

// Specific error constructors

func NewValidationError(stage, message string, cause error) *ConciergeError {
	return NewError(ErrCodeValidation, stage, message, cause)
}

func NewNotPermittedError(stage, actionName string) *ConciergeError {
	return NewError(ErrCodeNotPermitted, stage, fmt.Sprintf("action '%s' is not permitted in this session", actionName), nil)
}

func NewActionNotFoundError(stage, actionName string) *ConciergeError {
	return NewError(ErrCodeActionNotFound, stage, fmt.Sprintf("action '%s' not found", actionName), nil)
}

func NewMissingParameterError(stage, actionName, paramName string) *ConciergeError {
	msg := fmt.Sprintf("action '%s' requires parameter '%s'", actionName, paramName)
	return NewError(ErrCodeMissingParameter, stage, msg, nil)
}

func NewStepLimitError(maxSteps int) *ConciergeError {
	return NewError(ErrCodeStepLimit, "dispatching", fmt.Sprintf("step budget of %d calls exhausted", maxSteps), nil)
}

func NewTimeLimitError(stage string) *ConciergeError {
	return NewError(ErrCodeTimeLimit, stage, "time budget exhausted", nil)
}

func NewHandlerFailureError(stage, actionName string, cause error) *ConciergeError {
	return NewError(ErrCodeHandlerFailure, stage, fmt.Sprintf("handler failed for action '%s'", actionName), cause)
}

func NewProposerError(cause error) *ConciergeError {
	return NewError(ErrCodeProposer, "dispatching", "proposer failed to produce the next call", cause)
}

func NewArgResolutionError(stage, actionName, argName string, cause error) *ConciergeError {
	msg := fmt.Sprintf("failed to resolve argument '%s' for action '%s'", argName, actionName)
	return NewError(ErrCodeArgResolution, stage, msg, cause)
}

func NewConfigurationError(message string, cause error) *ConciergeError {
	return NewError(ErrCodeConfiguration, "initialization", message, cause)
}

func NewCancelledError(stage string, cause error) *ConciergeError {
	msg := "execution cancelled"
	if cause != nil && cause.Error() != "" && cause.Error() != "context canceled" {
		msg = fmt.Sprintf("execution cancelled: %v", cause)
	}
	return NewError(ErrCodeCancelled, stage, msg, cause)
}

func NewInternalError(stage, message string, cause error) *ConciergeError {
	return NewError(ErrCodeInternal, stage, message, cause)
}
