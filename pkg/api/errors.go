package api

import "fmt"

// ErrorType represents the category of an API error.
type ErrorType string

const (
	ErrorTypeServerError     ErrorType = "server_error"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeNotFound        ErrorType = "not_found"
	ErrorTypeModelError      ErrorType = "model_error"
	ErrorTypeTooManyRequests ErrorType = "too_many_requests"
	ErrorTypeUnavailable     ErrorType = "unavailable"
)

// APIError represents a structured API error with type, code, param, and message.
type APIError struct {
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
	Param   string    `json:"param,omitempty"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Param != "" {
		return fmt.Sprintf("%s: %s (param: %s)", e.Type, e.Message, e.Param)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorResponse wraps an APIError for JSON serialization as the top-level error response.
type ErrorResponse struct {
	Error *APIError `json:"error"`
}

// NewInvalidRequestError reports a bad request field.
func NewInvalidRequestError(param, message string) *APIError {
	return &APIError{Type: ErrorTypeInvalidRequest, Param: param, Message: message}
}

// NewNotFoundError reports an unknown dataset, run or artifact.
func NewNotFoundError(message string) *APIError { return newAPIError(ErrorTypeNotFound, message) }

// NewServerError reports an internal failure.
func NewServerError(message string) *APIError { return newAPIError(ErrorTypeServerError, message) }

// NewModelError reports a failure of the language model backend.
func NewModelError(message string) *APIError { return newAPIError(ErrorTypeModelError, message) }

// NewTooManyRequestsError reports a rate limit or capacity rejection.
func NewTooManyRequestsError(message string) *APIError {
	return newAPIError(ErrorTypeTooManyRequests, message)
}

// NewUnavailableError reports a dependency that cannot be reached, such
// as a forced remote route while the remote service is down.
func NewUnavailableError(message string) *APIError {
	return newAPIError(ErrorTypeUnavailable, message)
}

func newAPIError(t ErrorType, message string) *APIError {
	return &APIError{Type: t, Message: message}
}

// ErrorCode classifies why an execution did not produce artifacts.
type ErrorCode string

const (
	// CodeGeneration means no runnable script could be produced. Nothing ran.
	CodeGeneration ErrorCode = "generation_error"
	// CodeTimeout means the script exceeded its wall-clock budget and was killed.
	CodeTimeout ErrorCode = "timeout"
	// CodeRuntime means the script exited with a non-zero status.
	CodeRuntime ErrorCode = "runtime_error"
	// CodeIO means the working directory or the input dataset was unavailable.
	CodeIO ErrorCode = "io_error"
	// CodeRemoteUnreachable means the remote service could not be contacted.
	CodeRemoteUnreachable ErrorCode = "remote_unreachable"
	// CodeRemoteError means the remote service answered with a failure.
	CodeRemoteError ErrorCode = "remote_error"
)

// Ran reports whether an execution with this code started running user
// code before it failed.
func (c ErrorCode) Ran() bool {
	switch c {
	case CodeTimeout, CodeRuntime, CodeRemoteError:
		return true
	default:
		return false
	}
}

// ExecutionError describes a failed execution.
type ExecutionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Error implements the error interface.
func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewExecutionError creates an ExecutionError with a formatted message.
func NewExecutionError(code ErrorCode, format string, args ...any) *ExecutionError {
	return &ExecutionError{Code: code, Message: fmt.Sprintf(format, args...)}
}
