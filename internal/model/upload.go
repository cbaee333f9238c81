package model

import "time"

// FileUploadRecord is a file that passed the threat scanner and lives in permanent storage.
// StoredFilename is generated by the server and is unrelated to OriginalFilename.
type FileUploadRecord struct {
	ID               string    `json:"id"`
	SubmissionID     string    `json:"submission_id"`
	FieldID          string    `json:"field_id"`
	OriginalFilename string    `json:"original_filename"`
	StoredFilename   string    `json:"stored_filename"`
	RelativePath     string    `json:"relative_path"`
	SizeBytes        int64     `json:"size_bytes"`
	MimeType         string    `json:"mime_type"`
	UploadedAt       time.Time `json:"uploaded_at"`
}

// StagedFile is a file accepted ahead of submission and kept in the quarantine directory.
// TempID is random and doubles as the on-disk name, so no separate index exists.
type StagedFile struct {
	TempID       string    `json:"temp_id"`
	TempName     string    `json:"temp_name"`
	Path         string    `json:"-"`
	OriginalName string    `json:"original_name"`
	DeclaredType string    `json:"mime"`
	Size         int64     `json:"size"`
	CreatedAt    time.Time `json:"created_at"`
}
