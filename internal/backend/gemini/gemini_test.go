package gemini_test

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
	"registrar/internal/backend/gemini"
	"registrar/internal/config"
)

func newTestClient(serverURL string) *gemini.Client {
	cfg := config.ProviderConfig{Provider: "gemini", APIKey: "test-api-key", TimeoutSecs: 30}
	opts := backend.Options{Model: "gemini-2.0-flash", Sampling: config.SamplingConfig{Temperature: 0.7, TopP: 0.7, MaxTokens: 16384, Seed: 10}}
	return gemini.NewWithEndpoint(cfg, opts, serverURL)
}

var testRequest = backend.Request{
	SchemaID: "ThyroidCancerNonnested",
	System:   "system prompt",
	User:     "## report\ntext",
	Schema:   map[string]any{"type": "object", "required": []string{"histology"}},
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("x-goog-api-key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sys := body["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)
		assert.Equal(t, "system prompt", sys["text"])
		gen := body["generationConfig"].(map[string]any)
		assert.Equal(t, "application/json", gen["responseMimeType"])
		assert.Equal(t, float64(16384), gen["maxOutputTokens"])
		assert.Equal(t, float64(10), gen["seed"])
		assert.NotNil(t, gen["responseJsonSchema"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"candidates": []map[string]any{{
				"content":      map[string]any{"parts": []map[string]any{{"text": `{"histology":"papillary"}`}}},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 50, "candidatesTokenCount": 8, "totalTokenCount": 58},
		})
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	require.NoError(t, err)
	assert.Equal(t, `{"histology":"papillary"}`, out.Text)
	assert.Equal(t, "gemini-2.0-flash", out.Model)
	assert.Equal(t, 58, out.Usage.TotalTokens)
}

func TestClient_Complete_MaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"{\"hist"}]},"finishReason":"MAX_TOKENS"}]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)
	assert.ErrorIs(t, err, backend.ErrTruncated)
}

func TestClient_Complete_NoCandidates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"candidates":[]}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)
	assert.ErrorContains(t, err, "no candidates")
}

func TestClient_Complete_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	var rl *backend.RateLimitError
	require.True(t, errors.As(err, &rl))
	assert.Equal(t, "gemini", rl.Provider)
	assert.Equal(t, 12.0, rl.RetryAfter.Seconds())
}

func TestFactory_RequiresAPIKey(t *testing.T) {
	_, err := backend.NewCompleter(config.ProviderConfig{Provider: "gemini"}, backend.Options{})
	assert.ErrorContains(t, err, "api key is required")

	c, err := backend.NewCompleter(config.ProviderConfig{Provider: "gemini", APIKey: "k"}, backend.Options{})
	require.NoError(t, err)
	assert.IsType(t, &gemini.Client{}, c)
}
