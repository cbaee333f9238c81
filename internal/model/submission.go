package model

import (
	"io"
	"time"
)

// Submission is an accepted, persisted form submission.
// Data holds the sanitized values of every non-file field, keyed by field id.
type Submission struct {
	ID          string             `json:"id"`
	FormID      string             `json:"form_id"`
	Data        map[string]Value   `json:"data"`
	Files       []FileUploadRecord `json:"files"`
	SubmittedAt time.Time          `json:"submitted_at"`
	ClientIP    string             `json:"client_ip"`
	UserAgent   string             `json:"user_agent"`
}

// IncomingFile is a file part attached directly to a submission request.
type IncomingFile struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// SubmissionAttempt is the in-flight unit of work. It is never persisted as is.
type SubmissionAttempt struct {
	FormID    string
	SessionID string
	CSRFToken string
	Values    map[string]RawValue
	Files     map[string]*IncomingFile
	// TempRefs maps a file field id to the temp token returned by a pre-upload.
	TempRefs  map[string]string
	ClientIP  string
	UserAgent string
	CreatedAt time.Time
}
