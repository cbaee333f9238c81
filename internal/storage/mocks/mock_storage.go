package mocks

import (
	"context"

	"formgate/internal/storage"

	"github.com/stretchr/testify/mock"
)

type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Promote(ctx context.Context, srcPath, key string, opt storage.PutObjectOptions) (storage.ObjectInfo, error) {
	args := m.Called(ctx, srcPath, key, opt)
	if f, ok := args.Get(0).(func(context.Context, string, string, storage.PutObjectOptions) storage.ObjectInfo); ok {
		return f(ctx, srcPath, key, opt), args.Error(1)
	}
	return args.Get(0).(storage.ObjectInfo), args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	args := m.Called(ctx, prefix)
	if v := args.Get(0); v != nil {
		return v.([]storage.ObjectInfo), args.Error(1)
	}
	return nil, args.Error(1)
}
