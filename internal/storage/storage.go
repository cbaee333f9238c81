// Package storage holds accepted files permanently. Keys are slash-separated relative
// paths such as submissions/2026/03/<id>_<field>_<ulid>.pdf.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

// ErrInvalidKey is returned for keys that are absolute or escape the storage root.
var ErrInvalidKey = errors.New("invalid storage key")

// PutObjectOptions define optional parameters for storing objects.
// ContentType and Metadata are optional.
type PutObjectOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectInfo contains basic information about a stored file.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// Storage is where promoted files live.
type Storage interface {
	// Promote moves the quarantined file at srcPath to key. On success srcPath no longer exists.
	Promote(ctx context.Context, srcPath, key string, opt PutObjectOptions) (ObjectInfo, error)
	// Delete removes a file by key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every file under prefix.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// ValidateKey rejects keys that are empty, absolute or contain parent references.
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, `\`) || strings.ContainsRune(key, 0) {
		return ErrInvalidKey
	}
	if path.Clean(key) != key {
		return ErrInvalidKey
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." || seg == "." {
			return ErrInvalidKey
		}
	}
	return nil
}
