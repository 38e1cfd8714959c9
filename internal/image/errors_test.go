package image

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorRetryability(t *testing.T) {
	tests := []struct {
		err       *Error
		kind      Kind
		retryable bool
	}{
		{NewConnectionError("down", nil), KindConnection, true},
		{NewTimeoutError(5 * time.Second, nil), KindTimeout, true},
		{NewRateLimitError("slow down", time.Second), KindRateLimit, true},
		{NewServerError("boom"), KindServer, true},
		{NewClientError(MsgInvalidAPIKey), KindClient, false},
		{NewUnknownError(errors.New("???")), KindUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.err.Kind)
			assert.Equal(t, tt.retryable, tt.err.Retryable)
			assert.Equal(t, tt.retryable, IsRetryable(tt.err))
		})
	}
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "Invalid API key", NewClientError(MsgInvalidAPIKey).Error())
	assert.Equal(t, "Request timed out after 30s", NewTimeoutError(30*time.Second, nil).Error())
	assert.Equal(t, "Request timed out", NewTimeoutError(0, nil).Error())
}

func TestClassify(t *testing.T) {
	assert.Nil(t, Classify(nil))

	original := NewRateLimitError("wait", 2*time.Second)
	wrapped := fmt.Errorf("calling backend: %w", original)
	assert.Same(t, original, Classify(wrapped))

	timeout := Classify(fmt.Errorf("read: %w", context.DeadlineExceeded))
	assert.Equal(t, KindTimeout, timeout.Kind)

	unknown := Classify(errors.New("strange"))
	assert.Equal(t, KindUnknown, unknown.Kind)
	assert.Equal(t, "strange", unknown.Message)
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := NewConnectionError("Connection failed", cause)
	require.ErrorIs(t, err, cause)
}
