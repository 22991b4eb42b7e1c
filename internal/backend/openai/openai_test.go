package openai_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/backend"
	"registrar/internal/backend/openai"
	"registrar/internal/config"
)

func newTestClient(serverURL string) *openai.Client {
	cfg := config.ProviderConfig{Provider: "openai", APIKey: "test-openai-key", TimeoutSecs: 30}
	opts := backend.Options{Model: "gpt-4o", Sampling: config.SamplingConfig{Temperature: 0.7, TopP: 0.7, MaxTokens: 16384, Seed: 10}}
	return openai.NewWithEndpoint(cfg, opts, serverURL)
}

func successResponse(content, finish string) map[string]any {
	return map[string]any{
		"model": "gpt-4o-2024-08-06",
		"choices": []map[string]any{
			{
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": finish,
			},
		},
		"usage": map[string]any{"prompt_tokens": 50, "completion_tokens": 10, "total_tokens": 60},
	}
}

var testRequest = backend.Request{
	SchemaID: "BreastCancerGrading",
	System:   "system prompt",
	User:     "## report\ntext",
	Schema:   map[string]any{"type": "object"},
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-openai-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body["model"])
		assert.Equal(t, float64(16384), body["max_completion_tokens"])
		format := body["response_format"].(map[string]any)
		assert.Equal(t, "json_schema", format["type"])
		assert.Equal(t, "BreastCancerGrading", format["json_schema"].(map[string]any)["name"])

		_ = json.NewEncoder(w).Encode(successResponse(`{"grade":2}`, "stop"))
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	require.NoError(t, err)
	assert.Equal(t, `{"grade":2}`, out.Text)
	assert.Equal(t, "gpt-4o-2024-08-06", out.Model)
	assert.Equal(t, 60, out.Usage.TotalTokens)
}

func TestClient_Complete_Truncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(successResponse(`{"gra`, "length"))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	assert.ErrorIs(t, err, backend.ErrTruncated)
}

func TestClient_Complete_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestClient_Complete_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "42")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limit"}}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	var rlErr *backend.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "openai", rlErr.Provider)
	assert.Equal(t, 42.0, rlErr.RetryAfter.Seconds())
}

func TestFactory_RequiresKeyOrBaseURL(t *testing.T) {
	_, err := backend.NewCompleter(config.ProviderConfig{Provider: "openai"}, backend.Options{})
	assert.Error(t, err)

	c, err := backend.NewCompleter(config.ProviderConfig{Provider: "openai", BaseURL: "http://localhost:8000"}, backend.Options{})
	require.NoError(t, err)
	assert.IsType(t, &openai.Client{}, c)
}
