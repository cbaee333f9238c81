package mocks

import (
	"context"

	"formgate/internal/model"
	"formgate/internal/repository"

	"github.com/stretchr/testify/mock"
)

type MockFormRepository struct {
	mock.Mock
}

func (m *MockFormRepository) FindByID(ctx context.Context, id string) (*model.FormSchema, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FormSchema), args.Error(1)
}

type MockSubmissionRepository struct {
	mock.Mock
}

func (m *MockSubmissionRepository) Begin(ctx context.Context) (repository.SubmissionTx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(repository.SubmissionTx), args.Error(1)
}

func (m *MockSubmissionRepository) KnownFilePaths(ctx context.Context, prefix string) (map[string]struct{}, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]struct{}), args.Error(1)
}

type MockSubmissionTx struct {
	mock.Mock
}

func (m *MockSubmissionTx) InsertSubmission(ctx context.Context, s *model.Submission) error {
	args := m.Called(ctx, s)
	return args.Error(0)
}

func (m *MockSubmissionTx) InsertFile(ctx context.Context, f *model.FileUploadRecord) error {
	args := m.Called(ctx, f)
	return args.Error(0)
}

func (m *MockSubmissionTx) Commit() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockSubmissionTx) Rollback() error {
	args := m.Called()
	return args.Error(0)
}
