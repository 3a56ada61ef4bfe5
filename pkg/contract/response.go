package contract

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ResponseInfo is the structured view of an HTTP response that the retry
// policy and expectation evaluators consume. Headers are flattened to the
// first value per key.
type ResponseInfo struct {
	StatusCode  int               `json:"status_code"`
	Status      string            `json:"status"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        any               `json:"body,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	DurationMs  int64             `json:"duration_ms"`
}

// Header returns a header value using canonical-case lookup, or "" if absent.
func (r *ResponseInfo) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	if v, ok := r.Headers[name]; ok {
		return v
	}
	return r.Headers[http.CanonicalHeaderKey(name)]
}

// RetryAfter parses the Retry-After header as an integer count of seconds.
// A missing or unparseable header yields (0, false): no server hint.
func (r *ResponseInfo) RetryAfter() (time.Duration, bool) {
	v := r.Header("Retry-After")
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// RateLimitError is the typed failure for HTTP 429 responses. The retry
// policy dispatches on this type rather than probing generic errors for
// response-shaped fields.
type RateLimitError struct {
	Response *ResponseInfo
}

func (e *RateLimitError) Error() string {
	hint := "no retry-after hint"
	if d, ok := e.Response.RetryAfter(); ok {
		hint = fmt.Sprintf("retry-after %s", d)
	}
	return fmt.Sprintf("[%s] rate limited (429, %s)", ErrCodeRateLimited, hint)
}

// AsRateLimit unwraps err looking for a RateLimitError.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}
