package common

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPipelineErrorFormatting(t *testing.T) {
	plain := NewError(CodeFileNotFound, "upload missing", nil)
	assert.Equal(t, "FILE_NOT_FOUND: upload missing", plain.Error())

	cause := errors.New("no such file")
	wrapped := NewError(CodeFileNotFound, "opening /tmp/x.csv", cause)
	assert.Equal(t, "FILE_NOT_FOUND: opening /tmp/x.csv: no such file", wrapped.Error())
	assert.ErrorIs(t, wrapped, cause)
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeFileTooLarge, CodeOf(Errorf(CodeFileTooLarge, "too big")))
	assert.Equal(t, CodeExtractionError, CodeOf(errors.New("anonymous failure")))

	// Codes survive wrapping in plain errors.
	wrapped := fmt.Errorf("outer: %w", Errorf(CodeCancelled, "stop"))
	assert.Equal(t, CodeCancelled, CodeOf(wrapped))
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Errorf(CodeExtractionFailed, "transient")))
	assert.True(t, Retryable(errors.New("unknown failures are worth a retry")))

	assert.True(t, Retryable(Errorf(CodeFileTooLarge, "oversized")))
	for _, code := range []ErrorCode{CodeFileNotFound, CodeInvalidConfig, CodeValidationError, CodeCancelled} {
		assert.False(t, Retryable(Errorf(code, "fatal")), "code %s", code)
	}
}
