package backend

import (
	"context"
	"log/slog"
	"time"

	"registrar/internal/prediction"
	"registrar/internal/signature"
)

// Completion is a provider's reply to one Request.
type Completion struct {
	Text  string
	Usage prediction.Usage
	Model string
}

// Completer sends a rendered request to one model provider.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
}

// Adapter implements port.Backend on top of a Completer: it renders the
// signature prompt, decodes and validates the reply, and wraps it in a
// Prediction carrying usage, inputs and the raw completion.
type Adapter struct {
	provider  string
	completer Completer
	catalog   *signature.Catalog
	logger    *slog.Logger
}

// NewAdapter binds a completer to a signature catalog.
func NewAdapter(provider string, c Completer, catalog *signature.Catalog, logger *slog.Logger) *Adapter {
	return &Adapter{provider: provider, completer: c, catalog: catalog, logger: logger}
}

// Invoke runs schemaID against the provider. Every failure is a *Error.
func (a *Adapter) Invoke(ctx context.Context, schemaID string, inputs map[string]any) (*prediction.Prediction, error) {
	sig, ok := a.catalog.Get(schemaID)
	if !ok {
		return nil, a.fail(schemaID, ErrUnknownSignature)
	}
	req, err := BuildRequest(sig, inputs)
	if err != nil {
		return nil, a.fail(schemaID, err)
	}

	start := time.Now()
	out, err := a.completer.Complete(ctx, req)
	if err != nil {
		return nil, a.fail(schemaID, err)
	}

	fields, err := DecodeObject(out.Text)
	if err != nil {
		return nil, a.fail(schemaID, err)
	}
	if err := sig.Validate(fields); err != nil {
		return nil, a.fail(schemaID, err)
	}

	a.logger.Debug("backend.invoke.ok",
		"provider", a.provider,
		"schema", schemaID,
		"model", out.Model,
		"total_tokens", out.Usage.TotalTokens,
		"elapsed", time.Since(start),
	)
	return prediction.New(fields).
		WithUsage(out.Usage).
		WithInputs(inputs).
		WithCompletion(out.Text), nil
}

func (a *Adapter) fail(schemaID string, err error) error {
	return &Error{SchemaID: schemaID, Provider: a.provider, Err: err}
}
