package httpclient

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryableErrorMessage(t *testing.T) {
	err := &RetryableError{StatusCode: 429, Message: "rate limited", RetryAfter: 2 * time.Second}
	assert.Equal(t, "HTTP 429: rate limited (retry after 2s)", err.Error())

	bare := &RetryableError{Message: "connection reset"}
	assert.Equal(t, "connection reset", bare.Error())
}

func TestIsRetryable(t *testing.T) {
	inner := &RetryableError{StatusCode: 503, Message: "unavailable"}
	wrapped := fmt.Errorf("push delivery: %w", inner)

	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRetryable(errors.New("bad request")))
	assert.False(t, IsRetryable(nil))
}
