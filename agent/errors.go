package agent

import (
	"fmt"
	"strconv"
	"time"
)

// ErrLLM wraps a provider-level failure that isn't an HTTP status error
// (e.g. malformed request, decode failure).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP wraps a non-2xx response from a provider's HTTP API. RetryAfter,
// when non-zero, is the duration parsed from the response's Retry-After
// header and is used by WithRetry as a floor on the backoff delay.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value, which is either
// an integer number of seconds or an HTTP-date. Returns 0 if header is empty
// or unparseable.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := time.Parse(time.RFC1123, header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
