// Package testing provides a testify mock of vcs.Adapter.
package testing

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockAdapter implements vcs.Adapter.
type MockAdapter struct {
	mock.Mock
}

// NewMockAdapter creates a MockAdapter.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{}
}

// CurrentHead implements vcs.Adapter.
func (m *MockAdapter) CurrentHead(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

// ChangedPaths implements vcs.Adapter.
func (m *MockAdapter) ChangedPaths(ctx context.Context, from, to string) ([]string, error) {
	args := m.Called(ctx, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
