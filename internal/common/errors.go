package common

import (
	"errors"
	"fmt"
)

// ErrorCode labels a pipeline failure for retry classification and reporting.
type ErrorCode string

const (
	CodeFileNotFound         ErrorCode = "FILE_NOT_FOUND"
	CodeFileTooLarge         ErrorCode = "FILE_TOO_LARGE"
	CodeFileTypeNotSupported ErrorCode = "FILE_TYPE_NOT_SUPPORTED"
	CodeExtractionFailed     ErrorCode = "EXTRACTION_FAILED"
	CodeValidationError      ErrorCode = "VALIDATION_ERROR"
	CodeInvalidConfig        ErrorCode = "INVALID_CONFIG"
	CodeCancelled            ErrorCode = "CANCELLED"
	CodeExtractionError      ErrorCode = "EXTRACTION_ERROR" // generic fallback
)

// nonRetryable lists the codes where retrying cannot help: the input or the
// request itself is bad, not the environment.
var nonRetryable = map[ErrorCode]struct{}{
	CodeFileNotFound:    {},
	CodeInvalidConfig:   {},
	CodeValidationError: {},
	CodeCancelled:       {},
}

// PipelineError represents pipeline-specific errors.
type PipelineError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewError builds a PipelineError with the given code.
func NewError(code ErrorCode, message string, cause error) *PipelineError {
	return &PipelineError{Code: code, Message: message, Cause: cause}
}

func Errorf(code ErrorCode, format string, args ...any) *PipelineError {
	return &PipelineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the error code, defaulting to the generic extraction error
// for anything that is not a PipelineError.
func CodeOf(err error) ErrorCode {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return CodeExtractionError
}

// Retryable reports whether a failed job may be re-enqueued.
func Retryable(err error) bool {
	_, fatal := nonRetryable[CodeOf(err)]
	return !fatal
}
