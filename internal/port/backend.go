package port

import (
	"context"

	"registrar/internal/prediction"
)

// Backend abstracts a generative model invoked against a named signature.
// inputs are keyed by the signature's input field names.
type Backend interface {
	Invoke(ctx context.Context, schemaID string, inputs map[string]any) (*prediction.Prediction, error)
}
