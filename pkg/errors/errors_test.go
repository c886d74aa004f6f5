package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessage(t *testing.T) {
	err := ErrBufferSaturated.WithCause(fmt.Errorf("capacity 10"))
	assert.Equal(t, "BUFFER_SATURATED: event buffer is full, retry later (caused by: capacity 10)", err.Error())

	err = ErrValidation.WithMessage("service is required")
	assert.Equal(t, "VALIDATION_ERROR: service is required", err.Error())
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrNotFound.WithDetail("id", "abc")
	assert.Empty(t, ErrNotFound.Details)
}

func TestClassifiers(t *testing.T) {
	wrapped := fmt.Errorf("insert batch: %w", ErrCircuitOpen.WithCause(errors.New("open state")))

	assert.True(t, IsCircuitOpen(wrapped))
	assert.False(t, IsBufferSaturated(wrapped))
	assert.True(t, errors.Is(wrapped, ErrCircuitOpen))
	assert.True(t, IsBufferSaturated(ErrBufferSaturated.WithDetail("retry_after", 5)))
	assert.True(t, IsNotFound(fmt.Errorf("get: %w", ErrNotFound)))
	assert.True(t, IsValidation(ErrValidation))
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("connection refused"), false},
		{"canceled", fmt.Errorf("query: %w", context.Canceled), false},
		{"deadline", context.DeadlineExceeded, false},
		{"validation", ErrValidation, true},
		{"not found", ErrNotFound, true},
		{"unavailable", ErrServiceUnavailable, false},
		{"forced fatal", ErrInternal.AsFatal(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPermanent(tt.err))
		})
	}
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusTooManyRequests, ToHTTPStatus(ErrBufferSaturated))
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(ErrCircuitOpen))
	assert.Equal(t, http.StatusGatewayTimeout, ToHTTPStatus(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(errors.New("boom")))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrBufferSaturated.WithDetail("retry_after_seconds", 5))
	assert.Equal(t, "BUFFER_SATURATED", resp["error_code"])
	assert.Equal(t, map[string]interface{}{"retry_after_seconds": 5}, resp["details"])

	resp = ToErrorResponse(errors.New("boom"))
	assert.Equal(t, "INTERNAL_ERROR", resp["error_code"])
	assert.NotContains(t, resp, "details")
}

func TestRecoverPanic(t *testing.T) {
	assert.NoError(t, RecoverPanic(nil))

	err := RecoverPanic("nil map write")
	require.Error(t, err)

	var appErr *Error
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, ErrInternal.Code, appErr.Code)
	assert.True(t, appErr.IsFatal())
	assert.Equal(t, true, appErr.Details["panic"])
	assert.LessOrEqual(t, len(appErr.Details["stack_trace"].(string)), maxStackBytes)

	cause := errors.New("index out of range")
	assert.ErrorIs(t, RecoverPanic(cause), cause)
}
