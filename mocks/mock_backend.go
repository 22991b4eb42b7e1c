package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"registrar/internal/prediction"
)

// MockBackend is a mock implementation of port.Backend.
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) Invoke(ctx context.Context, schemaID string, inputs map[string]any) (*prediction.Prediction, error) {
	args := m.Called(ctx, schemaID, inputs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*prediction.Prediction), args.Error(1)
}
