package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"formgate/internal/model"
	"formgate/internal/scanner"
	"formgate/internal/upload"
)

const submissionsPrefix = "submissions/"

var defaultAllowedTypes = map[model.FieldKind][]string{
	model.KindPhoto:     {"jpg", "jpeg", "png"},
	model.KindSignature: {"jpg", "jpeg", "png"},
	model.KindFile:      {"pdf", "jpg", "jpeg", "png", "doc", "docx"},
}

// allowedTypes returns the extension allow-list for a file field.
func allowedTypes(f model.FieldSpec) []string {
	if len(f.Constraints.AllowedTypes) > 0 {
		return f.Constraints.AllowedTypes
	}
	return defaultAllowedTypes[f.Kind]
}

// maxBytes returns the size cap of a file field.
func maxBytes(f model.FieldSpec, defaultMB float64) int64 {
	mb := f.Constraints.MaxSizeMB
	if mb <= 0 {
		mb = defaultMB
	}
	if mb <= 0 {
		mb = 10
	}
	return int64(mb * 1024 * 1024)
}

func sizeMessage(f model.FieldSpec, defaultMB float64) string {
	return fmt.Sprintf("File exceeds the maximum size of %s MB", formatMB(maxBytes(f, defaultMB)))
}

func formatMB(n int64) string {
	mb := float64(n) / (1024 * 1024)
	if mb == float64(int64(mb)) {
		return fmt.Sprintf("%d", int64(mb))
	}
	return fmt.Sprintf("%.1f", mb)
}

// PermanentKey builds submissions/<yyyy>/<mm>/<submissionId>_<fieldId>_<ulid><.ext>.
func PermanentKey(at time.Time, submissionID, fieldID, ext string) (string, error) {
	id, err := ulid.New(ulid.Timestamp(at), rand.Reader)
	if err != nil {
		return "", err
	}
	name := submissionID + "_" + fieldID + "_" + id.String()
	if ext != "" {
		name += "." + ext
	}
	return path.Join(submissionsPrefix+at.Format("2006"), at.Format("01"), name), nil
}

// resolvedFile is a claimed, scanned file waiting to be promoted.
type resolvedFile struct {
	field   model.FieldSpec
	staged  *model.StagedFile
	scan    scanner.Result
	release func()
	direct  bool
}

// fileOutcome reports one file field's resolution. At most one of file, fieldErr is set.
type fileOutcome struct {
	file     *resolvedFile
	fieldErr string
	threat   bool
	warnings []string
}

// resolveFile claims and scans the upload for field f: a file attached to this
// request first, otherwise a temp reference from an earlier pre-upload.
func (s *submissionService) resolveFile(ctx context.Context, formID string, f model.FieldSpec, a *model.SubmissionAttempt) (fileOutcome, error) {
	limit := maxBytes(f, s.cfg.DefaultMaxSizeMB)
	log := []zap.Field{zap.String("form_id", formID), zap.String("field_id", f.ID)}

	var (
		sf      *model.StagedFile
		release func()
		direct  bool
	)
	switch in, ref := a.Files[f.ID], a.TempRefs[f.ID]; {
	case in != nil && in.Open != nil && (in.Size > 0 || in.Filename != ""):
		staged, err := s.stageIncoming(ctx, in, limit)
		switch {
		case errors.Is(err, upload.ErrTooLarge):
			return fileOutcome{fieldErr: sizeMessage(f, s.cfg.DefaultMaxSizeMB)}, nil
		case errors.Is(err, upload.ErrBlockedName):
			s.metrics.threat()
			s.audit.Security(ctx, "file_threat_detected", append(log, zap.String("layer", "extension"))...)
			return fileOutcome{fieldErr: "File not allowed", threat: true}, nil
		case errors.Is(err, upload.ErrEmpty):
			return s.absent(f), nil
		case err != nil:
			return fileOutcome{}, transient("stage upload", err)
		}
		claimed, rel, err := s.stager.Consume(staged.TempName)
		if err != nil {
			s.stager.Discard(staged)
			return fileOutcome{}, transient("claim upload", err)
		}
		sf, release, direct = claimed, rel, true
	case ref != "":
		claimed, rel, err := s.stager.Consume(ref)
		if errors.Is(err, upload.ErrNotFound) {
			return fileOutcome{fieldErr: "Upload expired or not found"}, nil
		}
		if err != nil {
			return fileOutcome{}, transient("claim staged file", err)
		}
		sf, release = claimed, rel
	default:
		return s.absent(f), nil
	}

	drop := func() {
		if direct {
			s.stager.Discard(sf)
			return
		}
		release()
	}

	if sf.Size > limit {
		drop()
		return fileOutcome{fieldErr: sizeMessage(f, s.cfg.DefaultMaxSizeMB)}, nil
	}

	res, err := s.scanner.ScanFile(sf.Path, sf.OriginalName, allowedTypes(f))
	if err != nil {
		drop()
		return fileOutcome{}, transient("scan file", err)
	}
	if !res.Safe {
		s.stager.Discard(sf)
		s.metrics.threat()
		s.audit.Security(ctx, "file_threat_detected", append(log,
			zap.Strings("threats", res.Threats),
			zap.String("detected_mime", res.DetectedMIME),
			zap.Int64("size", sf.Size),
		)...)
		return fileOutcome{fieldErr: "File not allowed", threat: true}, nil
	}
	if len(res.Warnings) > 0 {
		s.audit.Warn(ctx, "file_scan_warning", append(log, zap.Strings("warnings", res.Warnings))...)
	}
	return fileOutcome{
		file:     &resolvedFile{field: f, staged: sf, scan: res, release: release, direct: direct},
		warnings: res.Warnings,
	}, nil
}

func (s *submissionService) absent(f model.FieldSpec) fileOutcome {
	if f.Required {
		return fileOutcome{fieldErr: fieldLabel(f) + " is required"}
	}
	return fileOutcome{}
}

func (s *submissionService) stageIncoming(ctx context.Context, in *model.IncomingFile, limit int64) (*model.StagedFile, error) {
	if in.Size > limit {
		return nil, upload.ErrTooLarge
	}
	rc, err := in.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	sf, err := s.stager.Stage(ctx, rc, in.Filename, in.ContentType, limit)
	if err != nil {
		return nil, err
	}
	s.metrics.stagedFile()
	return sf, nil
}

// giveBack returns unpromoted files: direct uploads are deleted, staged ones released for a retry.
func (s *submissionService) giveBack(files []*resolvedFile) {
	for _, rf := range files {
		if rf.direct {
			s.stager.Discard(rf.staged)
		} else {
			rf.release()
		}
	}
}

func fieldLabel(f model.FieldSpec) string {
	if f.Label != "" {
		return f.Label
	}
	return f.ID
}
