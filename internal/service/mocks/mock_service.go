package mocks

import (
	"context"

	"formgate/internal/model"
	"formgate/internal/service"

	"github.com/stretchr/testify/mock"
)

type MockSubmissionService struct {
	mock.Mock
}

func (m *MockSubmissionService) Submit(ctx context.Context, a *model.SubmissionAttempt) (*service.SubmitResult, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.SubmitResult), args.Error(1)
}

type MockUploadService struct {
	mock.Mock
}

func (m *MockUploadService) PreUpload(ctx context.Context, req service.PreUploadRequest) (*model.StagedFile, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.StagedFile), args.Error(1)
}

func (m *MockUploadService) Preview(ctx context.Context, ref string) ([]byte, string, error) {
	args := m.Called(ctx, ref)
	if args.Get(0) == nil {
		return nil, args.String(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

type MockFormService struct {
	mock.Mock
}

func (m *MockFormService) Get(ctx context.Context, formID string) (*model.FormSchema, error) {
	args := m.Called(ctx, formID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FormSchema), args.Error(1)
}

func (m *MockFormService) IssueCSRF(ctx context.Context, sessionID, formID string) (string, error) {
	args := m.Called(ctx, sessionID, formID)
	return args.String(0), args.Error(1)
}

type MockTokenGate struct {
	mock.Mock
}

func (m *MockTokenGate) Issue(ctx context.Context, sessionID, action string) (string, error) {
	args := m.Called(ctx, sessionID, action)
	return args.String(0), args.Error(1)
}

func (m *MockTokenGate) Validate(ctx context.Context, sessionID, action, supplied string) bool {
	args := m.Called(ctx, sessionID, action, supplied)
	return args.Bool(0)
}
