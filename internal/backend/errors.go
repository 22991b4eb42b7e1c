package backend

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrUnknownSignature = errors.New("unknown signature")
	ErrTruncated        = errors.New("output truncated")
	ErrMalformedOutput  = errors.New("malformed model output")
)

// Error is a failed backend invocation for one signature.
type Error struct {
	SchemaID string
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("backend %s: %s: %v", e.Provider, e.SchemaID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// RateLimitError indicates a provider returned HTTP 429.
type RateLimitError struct {
	Err        error
	RetryAfter time.Duration
	Provider   string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited (retry after %s): %v", e.Provider, e.RetryAfter, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// NewRateLimitError creates a RateLimitError. If retryAfterSecs is 0, defaults to 60s.
func NewRateLimitError(provider string, err error, retryAfterSecs int) *RateLimitError {
	if retryAfterSecs <= 0 {
		retryAfterSecs = 60
	}
	return &RateLimitError{
		Err:        err,
		RetryAfter: time.Duration(retryAfterSecs) * time.Second,
		Provider:   provider,
	}
}

// ParseRetryAfterHeader parses a Retry-After header value into seconds.
// Returns 0 if the value is empty or not a valid integer.
func ParseRetryAfterHeader(val string) int {
	if val == "" {
		return 0
	}
	secs, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return secs
}
