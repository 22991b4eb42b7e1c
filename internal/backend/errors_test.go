package backend_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"registrar/internal/backend"
)

func TestNewRateLimitError_DefaultRetry(t *testing.T) {
	err := backend.NewRateLimitError("openai", errors.New("429"), 0)

	assert.Equal(t, 60*time.Second, err.RetryAfter)
	assert.Contains(t, err.Error(), "openai rate limited")
}

func TestParseRetryAfterHeader(t *testing.T) {
	assert.Equal(t, 0, backend.ParseRetryAfterHeader(""))
	assert.Equal(t, 0, backend.ParseRetryAfterHeader("Wed, 21 Oct 2015 07:28:00 GMT"))
	assert.Equal(t, 30, backend.ParseRetryAfterHeader("30"))
}

func TestError_Unwraps(t *testing.T) {
	rl := backend.NewRateLimitError("claude", errors.New("429"), 5)
	err := &backend.Error{SchemaID: "DCIS", Provider: "claude", Err: rl}

	var got *backend.RateLimitError
	assert.True(t, errors.As(err, &got))
	assert.Equal(t, "backend claude: DCIS: "+rl.Error(), err.Error())
}
