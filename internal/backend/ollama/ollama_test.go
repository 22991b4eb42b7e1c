package ollama_test

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
	"registrar/internal/backend/ollama"
	"registrar/internal/config"
)

func newTestClient(serverURL string) *ollama.Client {
	return ollama.New(
		config.ProviderConfig{Provider: "ollama", BaseURL: serverURL + "/", TimeoutSecs: 5},
		backend.Options{
			Model:    "gpt-oss:20b",
			Sampling: config.SamplingConfig{Temperature: 0.7, TopP: 0.7, MaxTokens: 16384, NumCtx: 16384, Seed: 10},
		},
	)
}

var testRequest = backend.Request{
	SchemaID: "DCIS",
	System:   "system prompt",
	User:     "## report\ntext",
	Schema:   map[string]any{"type": "object"},
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-oss:20b", body["model"])
		assert.Equal(t, false, body["stream"])
		assert.Equal(t, map[string]any{"type": "object"}, body["format"])
		opts := body["options"].(map[string]any)
		assert.Equal(t, 0.7, opts["temperature"])
		assert.Equal(t, float64(16384), opts["num_ctx"])
		assert.Equal(t, float64(16384), opts["num_predict"])
		assert.Equal(t, float64(10), opts["seed"])
		messages := body["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])

		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":             "gpt-oss:20b",
			"message":           map[string]any{"role": "assistant", "content": `{"dcis_present":true}`},
			"done_reason":       "stop",
			"prompt_eval_count": 100,
			"eval_count":        20,
		})
	}))
	defer server.Close()

	out, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	require.NoError(t, err)
	assert.Equal(t, `{"dcis_present":true}`, out.Text)
	assert.Equal(t, 120, out.Usage.TotalTokens)
	assert.Equal(t, "gpt-oss:20b", out.Model)
}

func TestClient_Complete_Truncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":     map[string]any{"content": `{"dcis_pre`},
			"done_reason": "length",
		})
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	assert.ErrorIs(t, err, backend.ErrTruncated)
}

func TestClient_Complete_Busy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "5")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"server busy"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	var rlErr *backend.RateLimitError
	require.True(t, errors.As(err, &rlErr))
	assert.Equal(t, "ollama", rlErr.Provider)
	assert.Equal(t, 5.0, rlErr.RetryAfter.Seconds())
}

func TestClient_Complete_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	}))
	defer server.Close()

	_, err := newTestClient(server.URL).Complete(context.Background(), testRequest)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
	assert.Contains(t, err.Error(), "model not found")
}

func TestRegisteredWithFactory(t *testing.T) {
	c, err := backend.NewCompleter(config.ProviderConfig{Provider: "ollama"}, backend.Options{Model: "phi4"})

	require.NoError(t, err)
	assert.IsType(t, &ollama.Client{}, c)
}
