package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"registrar/internal/pipeline"
)

// MockReportRunner is a mock implementation of service.ReportRunner.
type MockReportRunner struct {
	mock.Mock
}

func (m *MockReportRunner) Run(ctx context.Context, report, name string) (*pipeline.Result, error) {
	args := m.Called(ctx, report, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*pipeline.Result), args.Error(1)
}
