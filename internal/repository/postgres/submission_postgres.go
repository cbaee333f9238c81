package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"formgate/internal/model"
	"formgate/internal/repository"
)

// SubmissionPostgres is a PostgreSQL implementation of repository.SubmissionRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type SubmissionPostgres struct {
	db *sql.DB
}

// NewSubmissionPostgres creates a new SubmissionPostgres repository.
func NewSubmissionPostgres(db *sql.DB) *SubmissionPostgres {
	return &SubmissionPostgres{db: db}
}

var _ repository.SubmissionRepository = (*SubmissionPostgres)(nil)

// Begin opens a read-committed transaction.
func (r *SubmissionPostgres) Begin(ctx context.Context) (repository.SubmissionTx, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &submissionTx{tx: tx}, nil
}

// KnownFilePaths lists recorded relative paths under prefix.
func (r *SubmissionPostgres) KnownFilePaths(ctx context.Context, prefix string) (map[string]struct{}, error) {
	const q = `
		SELECT relative_path
		FROM submission_files
		WHERE starts_with(relative_path, $1)
	`
	rows, err := r.db.QueryContext(ctx, q, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type submissionTx struct {
	tx *sql.Tx
}

var _ repository.SubmissionTx = (*submissionTx)(nil)

func (t *submissionTx) InsertSubmission(ctx context.Context, s *model.Submission) error {
	const q = `
		INSERT INTO submissions (id, form_id, data, client_ip, user_agent, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	data, err := json.Marshal(s.Data)
	if err != nil {
		return fmt.Errorf("encode submission data: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, q,
		s.ID,
		s.FormID,
		data,
		s.ClientIP,
		s.UserAgent,
		s.SubmittedAt,
	)
	return err
}

func (t *submissionTx) InsertFile(ctx context.Context, f *model.FileUploadRecord) error {
	const q = `
		INSERT INTO submission_files (
			id, submission_id, field_id, original_filename, stored_filename,
			relative_path, size_bytes, mime_type, uploaded_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := t.tx.ExecContext(ctx, q,
		f.ID,
		f.SubmissionID,
		f.FieldID,
		f.OriginalFilename,
		f.StoredFilename,
		f.RelativePath,
		f.SizeBytes,
		f.MimeType,
		f.UploadedAt,
	)
	return err
}

func (t *submissionTx) Commit() error   { return t.tx.Commit() }
func (t *submissionTx) Rollback() error { return t.tx.Rollback() }
