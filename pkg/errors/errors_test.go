package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndIs(t *testing.T) {
	err := New(ErrCodeConfiguration, "depth must be positive, got %g", -1.0)

	assert.True(t, Is(err, ErrCodeConfiguration))
	assert.False(t, Is(err, ErrCodeKernelFailure))
	assert.Equal(t, "CONFIGURATION_ERROR: depth must be positive, got -1", err.Error())
}

func TestWrapPreservesCause(t *testing.T) {
	cause := context.DeadlineExceeded
	err := Wrap(ErrCodeTimeout, cause, "kernel call")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "context deadline exceeded")

	wrapped := fmt.Errorf("carve text: %w", err)
	assert.True(t, Is(wrapped, ErrCodeTimeout))
	assert.Equal(t, ErrCodeTimeout, GetCode(wrapped))
}

func TestWithDetail(t *testing.T) {
	err := New(ErrCodeKernelFailure, "openscad exited with status 1").WithDetail("ERROR: Parser error")
	require.Equal(t, "ERROR: Parser error", err.Detail)
	assert.Contains(t, err.Error(), "Parser error")
}

func TestGetCodePlainError(t *testing.T) {
	assert.Equal(t, ErrCodeInternal, GetCode(errors.New("boom")))
	assert.Equal(t, ErrCodeInternal, GetCode(nil))
}

func TestIsInputError(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{ErrCodeConfiguration, true},
		{ErrCodeEmptyPattern, true},
		{ErrCodeEncodingFailure, true},
		{ErrCodeInvalidInput, true},
		{ErrCodeMissingDependency, false},
		{ErrCodeKernelFailure, false},
		{ErrCodeTimeout, false},
		{ErrCodeInternal, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, IsInputError(New(tt.code, "x")))
		})
	}
}
