package httpclient

import (
	"errors"
	"fmt"
	"time"
)

// RetryableError reports a request that exhausted its retry budget.
// RetryAfter suggests how long to wait before trying the endpoint again.
type RetryableError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	msg := e.Message
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	if e.RetryAfter > 0 {
		msg = fmt.Sprintf("%s (retry after %s)", msg, e.RetryAfter)
	}
	return msg
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err marks a failure worth retrying later.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
