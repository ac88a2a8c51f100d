// test/mock/remote.go
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/vagasapp/cachecore/model"
)

// MockRemote is a mock remote data service for orchestrator tests.
type MockRemote struct {
	mock.Mock
}

func (m *MockRemote) Fetch(ctx context.Context) (any, error) {
	args := m.Called(ctx)
	return args.Get(0), args.Error(1)
}

// MockExecutor is a mock implementation of syncqueue.Executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, op model.SyncOperation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}
