package contract

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeSchemaCompile  = "SCHEMA_COMPILE_ERROR"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeRetryExhausted = "RETRY_EXHAUSTED"
	ErrCodeNonRetryable   = "NON_RETRYABLE"
	ErrCodeExecution      = "EXECUTION_ERROR"
	ErrCodeTimeout        = "TIMEOUT_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConfig         = "CONFIG_ERROR"
	ErrCodeStore          = "STORE_ERROR"
	ErrCodeInterpolation  = "INTERPOLATION_ERROR"
)

// ProbeError is the structured error type for all restprobe operations.
type ProbeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	CaseID  string         `json:"case_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *ProbeError) Error() string {
	if e.CaseID != "" {
		return fmt.Sprintf("[%s] case %s: %s", e.Code, e.CaseID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new ProbeError.
func NewError(code, message string) *ProbeError {
	return &ProbeError{Code: code, Message: message}
}

// NewErrorf creates a new ProbeError with a formatted message.
func NewErrorf(code, format string, args ...any) *ProbeError {
	return &ProbeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithCase attaches a case ID to the error.
func (e *ProbeError) WithCase(caseID string) *ProbeError {
	e.CaseID = caseID
	return e
}

// WithCause attaches an underlying cause.
func (e *ProbeError) WithCause(err error) *ProbeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *ProbeError) WithDetails(details map[string]any) *ProbeError {
	e.Details = details
	return e
}
