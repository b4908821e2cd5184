package httpclient

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// RetryableError reports that a request failed after exhausting its
// retry budget. RetryAfter suggests how long callers with their own
// retry loops should wait before trying again.
type RetryableError struct {
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *RetryableError) Error() string {
	s := fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	if e.RetryAfter > 0 {
		s += fmt.Sprintf(" (retry after %v)", e.RetryAfter)
	}
	return s
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRateLimited reports whether err is a RetryableError caused by a
// 429 response.
func IsRateLimited(err error) bool {
	var re *RetryableError
	return errors.As(err, &re) && re.StatusCode == http.StatusTooManyRequests
}
