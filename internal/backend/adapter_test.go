package backend_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"registrar/internal/backend"
	"registrar/internal/config"
	"registrar/internal/logging"
	"registrar/internal/prediction"
	"registrar/internal/signature"
)

type stubCompleter struct {
	text string
	err  error
	got  backend.Request
}

func (s *stubCompleter) Complete(_ context.Context, req backend.Request) (*backend.Completion, error) {
	s.got = req
	if s.err != nil {
		return nil, s.err
	}
	return &backend.Completion{Text: s.text, Model: "stub", Usage: prediction.Usage{TotalTokens: 42}}, nil
}

func newAdapter(t *testing.T, c backend.Completer) *backend.Adapter {
	t.Helper()
	catalog, err := signature.Default()
	require.NoError(t, err)
	return backend.NewAdapter("stub", c, catalog, logging.Discard())
}

func TestAdapter_Invoke_Success(t *testing.T) {
	stub := &stubCompleter{text: "```json\n{\"cancer_excision_report\":true,\"cancer_category\":\"breast\",\"cancer_category_others_description\":null}\n```"}
	inputs := map[string]any{"report": []string{"Invasive ductal carcinoma.", "Margins free."}}

	out, err := newAdapter(t, stub).Invoke(context.Background(), signature.ClassifierID, inputs)

	require.NoError(t, err)
	ok, err := out.Bool("cancer_excision_report")
	require.NoError(t, err)
	assert.True(t, ok)
	cat, err := out.OptionalString("cancer_category")
	require.NoError(t, err)
	assert.Equal(t, "breast", *cat)

	usage, _ := out.Get(prediction.KeyUsage)
	assert.Equal(t, prediction.Usage{TotalTokens: 42}, usage)
	recorded, _ := out.Get(prediction.KeyInputs)
	assert.Equal(t, inputs, recorded)

	assert.Equal(t, signature.ClassifierID, stub.got.SchemaID)
	assert.Contains(t, stub.got.User, "## report")
	assert.Contains(t, stub.got.User, "Margins free.")
}

func TestAdapter_Invoke_UnknownSignature(t *testing.T) {
	_, err := newAdapter(t, &stubCompleter{}).Invoke(context.Background(), "KidneyCancerLN", map[string]any{})

	var bErr *backend.Error
	require.True(t, errors.As(err, &bErr))
	assert.Equal(t, "KidneyCancerLN", bErr.SchemaID)
	assert.ErrorIs(t, err, backend.ErrUnknownSignature)
}

func TestAdapter_Invoke_MissingInput(t *testing.T) {
	_, err := newAdapter(t, &stubCompleter{}).Invoke(context.Background(), "DCIS", map[string]any{"report": "text"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), `missing input "report_jsonized"`)
}

func TestAdapter_Invoke_SchemaViolation(t *testing.T) {
	stub := &stubCompleter{text: `{"dcis_present":"maybe","dcis_nuclear_grade":null,"dcis_extensive_intraductal_component":null}`}
	inputs := map[string]any{"report": "text", "report_jsonized": map[string]any{}}

	_, err := newAdapter(t, stub).Invoke(context.Background(), "DCIS", inputs)

	var bErr *backend.Error
	require.True(t, errors.As(err, &bErr))
	assert.Contains(t, err.Error(), "signature DCIS")
}

func TestAdapter_Invoke_MalformedOutput(t *testing.T) {
	stub := &stubCompleter{text: "I could not find any margins."}
	inputs := map[string]any{"report": "text", "report_jsonized": map[string]any{}}

	_, err := newAdapter(t, stub).Invoke(context.Background(), "DCIS", inputs)

	assert.ErrorIs(t, err, backend.ErrMalformedOutput)
}

func TestAdapter_Invoke_CompleterError(t *testing.T) {
	rl := backend.NewRateLimitError("stub", errors.New("429"), 1)
	inputs := map[string]any{"report": []string{"A"}}

	_, err := newAdapter(t, &stubCompleter{err: rl}).Invoke(context.Background(), signature.ClassifierID, inputs)

	var got *backend.RateLimitError
	assert.True(t, errors.As(err, &got))
}

func TestNew_UnknownProvider(t *testing.T) {
	catalog, err := signature.Default()
	require.NoError(t, err)
	cfg := &config.Config{
		Backend: config.BackendConfig{Primary: config.ProviderConfig{Provider: "nonexistent-provider-xyz", Model: "gpt"}},
		Models:  map[string]string{"gpt": "gpt-oss:20b"},
	}

	_, err = backend.New(cfg, catalog, logging.Discard())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend provider")
}

func TestNew_ChainsRegisteredProviders(t *testing.T) {
	backend.RegisterProvider("test-provider", func(_ config.ProviderConfig, opts backend.Options) (backend.Completer, error) {
		return &stubCompleter{text: `{"output":{"model":"` + opts.Model + `"}}`}, nil
	})
	catalog, err := signature.Default()
	require.NoError(t, err)
	cfg := &config.Config{
		Backend: config.BackendConfig{
			Primary:   config.ProviderConfig{Provider: "test-provider", Model: "gpt"},
			Secondary: config.ProviderConfig{Provider: "test-provider", Model: "phi4"},
		},
		Models: map[string]string{"gpt": "gpt-oss:20b", "phi4": "phi4"},
	}

	b, err := backend.New(cfg, catalog, logging.Discard())
	require.NoError(t, err)
	_, isFallback := b.(*backend.FallbackBackend)
	assert.True(t, isFallback)

	out, err := b.Invoke(context.Background(), signature.StructurerID, map[string]any{"report": []string{"A"}, "cancer_category": "lung"})
	require.NoError(t, err)
	doc := out.Map("output")
	assert.Equal(t, "gpt-oss:20b", doc["model"])
}
