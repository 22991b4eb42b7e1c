package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"registrar/internal/backend"
	"registrar/internal/logging"
	"registrar/internal/port"
	"registrar/internal/prediction"
	"registrar/mocks"
)

var fallbackInputs = map[string]any{"report": []string{"A"}}

func fallbackPrediction(model string) *prediction.Prediction {
	return prediction.New(map[string]any{"model": model})
}

func TestFallbackBackend_FirstSucceeds(t *testing.T) {
	b1 := new(mocks.MockBackend)
	b2 := new(mocks.MockBackend)
	b1.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(fallbackPrediction("ollama"), nil)

	fb := backend.NewFallbackBackend([]port.Backend{b1, b2}, []string{"ollama", "openai"}, logging.Discard())

	out, err := fb.Invoke(context.Background(), "is_cancer", fallbackInputs)

	require.NoError(t, err)
	v, _ := out.Get("model")
	assert.Equal(t, "ollama", v)
	b2.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)
}

func TestFallbackBackend_FirstFails_SecondSucceeds(t *testing.T) {
	b1 := new(mocks.MockBackend)
	b2 := new(mocks.MockBackend)
	b1.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(nil, errors.New("connection refused"))
	b2.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(fallbackPrediction("openai"), nil)

	fb := backend.NewFallbackBackend([]port.Backend{b1, b2}, []string{"ollama", "openai"}, logging.Discard())

	out, err := fb.Invoke(context.Background(), "is_cancer", fallbackInputs)

	require.NoError(t, err)
	v, _ := out.Get("model")
	assert.Equal(t, "openai", v)
}

func TestFallbackBackend_RateLimitOpensCircuit(t *testing.T) {
	b1 := new(mocks.MockBackend)
	b2 := new(mocks.MockBackend)
	rlErr := backend.NewRateLimitError("claude", errors.New("429"), 60)
	b1.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(nil, rlErr).Once()
	b2.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(fallbackPrediction("openai"), nil).Twice()

	fb := backend.NewFallbackBackend([]port.Backend{b1, b2}, []string{"claude", "openai"}, logging.Discard())

	_, err := fb.Invoke(context.Background(), "is_cancer", fallbackInputs)
	require.NoError(t, err)
	_, err = fb.Invoke(context.Background(), "is_cancer", fallbackInputs)
	require.NoError(t, err)

	b1.AssertNumberOfCalls(t, "Invoke", 1)
	b2.AssertNumberOfCalls(t, "Invoke", 2)
}

func TestFallbackBackend_AllRateLimited(t *testing.T) {
	b1 := new(mocks.MockBackend)
	b2 := new(mocks.MockBackend)
	b1.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(nil, backend.NewRateLimitError("claude", errors.New("429"), 30))
	b2.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(nil, backend.NewRateLimitError("openai", errors.New("429"), 10))

	fb := backend.NewFallbackBackend([]port.Backend{b1, b2}, []string{"claude", "openai"}, logging.Discard())

	_, err := fb.Invoke(context.Background(), "is_cancer", fallbackInputs)

	var rlErr *backend.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "all", rlErr.Provider)
	var bErr *backend.Error
	assert.True(t, errors.As(err, &bErr))
}

func TestFallbackBackend_AllFail(t *testing.T) {
	b1 := new(mocks.MockBackend)
	b2 := new(mocks.MockBackend)
	last := errors.New("bad gateway")
	b1.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(nil, backend.NewRateLimitError("claude", errors.New("429"), 30))
	b2.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(nil, last)

	fb := backend.NewFallbackBackend([]port.Backend{b1, b2}, []string{"claude", "openai"}, logging.Discard())

	_, err := fb.Invoke(context.Background(), "is_cancer", fallbackInputs)

	assert.ErrorIs(t, err, last)
	assert.Contains(t, err.Error(), "all backends failed")
}

func TestFallbackBackend_CanceledContextStops(t *testing.T) {
	b1 := new(mocks.MockBackend)
	b2 := new(mocks.MockBackend)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b1.On("Invoke", mock.Anything, "is_cancer", fallbackInputs).Return(nil, context.Canceled)

	fb := backend.NewFallbackBackend([]port.Backend{b1, b2}, []string{"ollama", "openai"}, logging.Discard())

	_, err := fb.Invoke(ctx, "is_cancer", fallbackInputs)

	assert.ErrorIs(t, err, context.Canceled)
	b2.AssertNotCalled(t, "Invoke", mock.Anything, mock.Anything, mock.Anything)
}
