// Package ollama talks to a local Ollama server through its native chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"registrar/internal/backend"
	"registrar/internal/config"
	"registrar/internal/prediction"
)

const defaultBaseURL = "http://localhost:11434"

func init() {
	backend.RegisterProvider("ollama", func(cfg config.ProviderConfig, opts backend.Options) (backend.Completer, error) {
		return New(cfg, opts), nil
	})
}

// Client implements backend.Completer against POST /api/chat.
type Client struct {
	model    string
	endpoint string
	sampling config.SamplingConfig
	client   *http.Client
}

// New creates an Ollama client. An empty base URL means the local default.
func New(cfg config.ProviderConfig, opts backend.Options) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout == 0 {
		timeout = 600 * time.Second
	}
	return &Client{
		model:    opts.Model,
		endpoint: base + "/api/chat",
		sampling: opts.Sampling,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *Client) Complete(ctx context.Context, req backend.Request) (*backend.Completion, error) {
	reqBody := map[string]any{
		"model":  c.model,
		"stream": false,
		"format": req.Schema,
		"messages": []map[string]string{
			{"role": "system", "content": req.System},
			{"role": "user", "content": req.User},
		},
		"options": map[string]any{
			"temperature": c.sampling.Temperature,
			"top_p":       c.sampling.TopP,
			"num_ctx":     c.sampling.NumCtx,
			"num_predict": c.sampling.MaxTokens,
			"seed":        c.sampling.Seed,
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling ollama: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		baseErr := fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			retryAfter := backend.ParseRetryAfterHeader(resp.Header.Get("Retry-After"))
			return nil, backend.NewRateLimitError("ollama", baseErr, retryAfter)
		}
		return nil, baseErr
	}

	return parseResponse(respBody, c.model)
}

// chatResponse models the non-streaming /api/chat reply.
type chatResponse struct {
	Model   string `json:"model"`
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

func parseResponse(body []byte, model string) (*backend.Completion, error) {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unmarshaling response: %w", err)
	}
	if resp.DoneReason == "length" {
		return nil, fmt.Errorf("%w (done_reason: length)", backend.ErrTruncated)
	}
	if strings.TrimSpace(resp.Message.Content) == "" {
		return nil, fmt.Errorf("empty response from ollama")
	}
	if resp.Model != "" {
		model = resp.Model
	}
	return &backend.Completion{
		Text:  resp.Message.Content,
		Model: model,
		Usage: prediction.Usage{
			PromptTokens:     resp.PromptEvalCount,
			CompletionTokens: resp.EvalCount,
			TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
		},
	}, nil
}
