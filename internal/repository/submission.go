package repository

import (
	"context"

	"formgate/internal/model"
)

// SubmissionRepository persists accepted submissions. Writes happen inside a SubmissionTx
// so a submission row and its file rows become visible together or not at all.
type SubmissionRepository interface {
	// Begin opens a write transaction.
	Begin(ctx context.Context) (SubmissionTx, error)

	// KnownFilePaths returns the relative paths of all recorded files under prefix.
	KnownFilePaths(ctx context.Context, prefix string) (map[string]struct{}, error)
}

// SubmissionTx is a unit of work over submissions and submission_files.
type SubmissionTx interface {
	InsertSubmission(ctx context.Context, s *model.Submission) error
	InsertFile(ctx context.Context, f *model.FileUploadRecord) error
	Commit() error
	Rollback() error
}
