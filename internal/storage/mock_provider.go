package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockProvider is a mock implementation of the Provider interface for testing.
type MockProvider struct {
	mock.Mock
}

// Load is the mock implementation of the Load method.
func (m *MockProvider) Load(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1) //nolint:wrapcheck
}

// Save is the mock implementation of the Save method.
func (m *MockProvider) Save(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	return args.Error(0) //nolint:wrapcheck
}

// Location is the mock implementation of the Location method.
func (m *MockProvider) Location() string {
	return "mock://snapshot"
}
