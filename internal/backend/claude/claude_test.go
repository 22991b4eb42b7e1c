package claude_test

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
	"registrar/internal/backend/claude"
	"registrar/internal/config"
)

func newTestClient(serverURL string) *claude.Client {
	cfg := config.ProviderConfig{Provider: "claude", APIKey: "test-api-key", TimeoutSecs: 30}
	opts := backend.Options{Model: "claude-sonnet-4-20250514", Sampling: config.SamplingConfig{Temperature: 0.7, MaxTokens: 16384}}
	return claude.NewWithEndpoint(cfg, opts, serverURL)
}

var testRequest = backend.Request{
	SchemaID: "LiverCancerExtent",
	System:   "system prompt",
	User:     "## report\ntext",
	Schema:   map[string]any{"type": "object", "required": []string{"tumor_count"}},
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-api-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-sonnet-4-20250514", body["model"])
		assert.Equal(t, float64(16384), body["max_tokens"])
		assert.Contains(t, body["system"], "system prompt")
		assert.Contains(t, body["system"], `"required":["tumor_count"]`)

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]any{
				{"type": "text", "text": `{"tumor_count":`},
				{"type": "text", "text": `2}`},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]any{"input_tokens": 70, "output_tokens": 5},
		})
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	require.NoError(t, err)
	assert.Equal(t, `{"tumor_count":2}`, out.Text)
	assert.Equal(t, "claude-sonnet-4-20250514", out.Model)
	assert.Equal(t, 75, out.Usage.TotalTokens)
}

func TestClient_Complete_MaxTokens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content":     []map[string]any{{"type": "text", "text": `{"tumor`}},
			"stop_reason": "max_tokens",
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	assert.ErrorIs(t, err, backend.ErrTruncated)
}

func TestClient_Complete_EmptyContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty response")
}

func TestClient_Complete_RateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	var rlErr *backend.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, 60.0, rlErr.RetryAfter.Seconds())
}

func TestFactory_RequiresKey(t *testing.T) {
	_, err := backend.NewCompleter(config.ProviderConfig{Provider: "claude"}, backend.Options{})

	assert.Error(t, err)
}
