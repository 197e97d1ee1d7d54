package storagemock

import (
	"context"

	"github.com/raterudder/powerwatch/pkg/storage"
	"github.com/raterudder/powerwatch/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockPersister struct {
	mock.Mock
}

var _ storage.Persister = (*MockPersister)(nil)

func (m *MockPersister) Load(ctx context.Context, name string) (types.Snapshot, error) {
	args := m.Called(ctx, name)
	if len(args) > 0 {
		return args.Get(0).(types.Snapshot), args.Error(1)
	}
	return types.Snapshot{}, nil
}

func (m *MockPersister) Save(ctx context.Context, name string, snap types.Snapshot) error {
	args := m.Called(ctx, name, snap)
	return args.Error(0)
}

func (m *MockPersister) List(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		if args.Get(0) == nil {
			return nil, args.Error(1)
		}
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, nil
}

func (m *MockPersister) Close() error {
	args := m.Called()
	return args.Error(0)
}
