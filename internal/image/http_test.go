package image

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyCode(t *testing.T) {
	tests := []struct {
		code      int
		retryAt   string
		kind      Kind
		message   string
		retryable bool
		wait      time.Duration
	}{
		{http.StatusUnauthorized, "", KindClient, MsgInvalidAPIKey, false, 0},
		{http.StatusForbidden, "", KindClient, MsgQuotaExceeded, false, 0},
		{http.StatusTooManyRequests, "2", KindRateLimit, MsgRateLimited, true, 2 * time.Second},
		{http.StatusTooManyRequests, "", KindRateLimit, MsgRateLimited, true, 0},
		{http.StatusInternalServerError, "", KindServer, "Server error (500)", true, 0},
		{http.StatusServiceUnavailable, "", KindServer, "Server error (503)", true, 0},
		{http.StatusBadRequest, "", KindClient, "Request failed (400)", false, 0},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			err := classifyCode(tt.code, "", tt.retryAt)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.message, err.Message)
			assert.Equal(t, tt.retryable, err.Retryable)
			assert.Equal(t, tt.wait, err.RetryAfter)
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 5*time.Second, parseRetryAfter("5", now))
	assert.Equal(t, 1500*time.Millisecond, parseRetryAfter("1.5", now))
	assert.Equal(t, 30*time.Second, parseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter(now.Add(-time.Minute).Format(http.TimeFormat), now))
	assert.Zero(t, parseRetryAfter("", now))
	assert.Zero(t, parseRetryAfter("soon", now))
	assert.Zero(t, parseRetryAfter("-3", now))
}

func TestProviderMessage(t *testing.T) {
	assert.Equal(t, "API key not valid", providerMessage([]byte(`{"error":{"code":400,"message":"API key not valid"}}`)))
	assert.Equal(t, "flat", providerMessage([]byte(`{"error":"flat"}`)))
	assert.Equal(t, "top", providerMessage([]byte(`{"message":"top"}`)))
	assert.Equal(t, "gone", providerMessage([]byte(`{"detail":"gone"}`)))
	assert.Equal(t, "plain text", providerMessage([]byte("plain text\nmore")))
	assert.Empty(t, providerMessage(nil))
}
