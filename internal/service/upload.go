package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"formgate/internal/model"
	"formgate/internal/security"
	"formgate/internal/upload"
)

// PreUploadRequest is a single file sent ahead of its form submission.
type PreUploadRequest struct {
	FormID    string
	FieldID   string
	File      *model.IncomingFile
	ClientIP  string
	UserAgent string
}

// UploadService stages and previews files before the form is submitted.
type UploadService interface {
	// PreUpload scans the file and keeps it in quarantine until a submission claims it
	// or the staging TTL passes.
	PreUpload(ctx context.Context, req PreUploadRequest) (*model.StagedFile, error)

	// Preview returns a staged image for display. Only png, jpeg and gif are served.
	Preview(ctx context.Context, ref string) ([]byte, string, error)
}

type uploadService struct {
	*submissionService
}

// NewUploadService constructs a new UploadService.
func NewUploadService(d Deps) UploadService {
	return &uploadService{newSubmissionService(d)}
}

func (s *uploadService) PreUpload(ctx context.Context, req PreUploadRequest) (*model.StagedFile, error) {
	ctx, span := tracer.Start(ctx, "upload.pre_upload", trace.WithAttributes(
		attribute.String("form.id", req.FormID),
		attribute.String("field.id", req.FieldID),
	))
	defer span.End()

	who := []zap.Field{
		zap.String("form_id", req.FormID),
		zap.String("field_id", req.FieldID),
		zap.String("client_ip", req.ClientIP),
	}
	if err := s.checkRate(ctx, ActionUpload, req.ClientIP, s.policy.UploadLimit, who); err != nil {
		return nil, err
	}

	schema, err := s.loadForm(ctx, req.FormID)
	if err != nil {
		return nil, err
	}
	f, ok := schema.Field(req.FieldID)
	if !ok || !f.Kind.IsFile() {
		return nil, &ValidationError{Fields: map[string]string{"field_id": "Unknown file field"}}
	}
	if req.File == nil || req.File.Open == nil {
		return nil, &ValidationError{Fields: map[string]string{f.ID: "No file uploaded"}}
	}

	limit := maxBytes(f, s.cfg.DefaultMaxSizeMB)
	sf, err := s.stageIncoming(ctx, req.File, limit)
	switch {
	case errors.Is(err, upload.ErrTooLarge):
		return nil, &ValidationError{Fields: map[string]string{f.ID: sizeMessage(f, s.cfg.DefaultMaxSizeMB)}}
	case errors.Is(err, upload.ErrEmpty):
		return nil, &ValidationError{Fields: map[string]string{f.ID: "No file uploaded"}}
	case errors.Is(err, upload.ErrBlockedName):
		s.metrics.threat()
		s.audit.Security(ctx, "file_threat_detected", append(who, zap.String("layer", "extension"))...)
		return nil, ErrThreatDetected
	case err != nil:
		s.audit.Error(ctx, "stage_failed", err, who...)
		return nil, transient("stage upload", err)
	}

	res, err := s.scanner.ScanFile(sf.Path, sf.OriginalName, allowedTypes(f))
	if err != nil {
		s.stager.Discard(sf)
		return nil, transient("scan file", err)
	}
	if !res.Safe {
		s.stager.Discard(sf)
		s.metrics.threat()
		s.audit.Security(ctx, "file_threat_detected", append(who,
			zap.Strings("threats", res.Threats),
			zap.String("detected_mime", res.DetectedMIME),
			zap.String("user_agent", security.SanitizeOutput(req.UserAgent)),
		)...)
		return nil, ErrThreatDetected
	}
	if len(res.Warnings) > 0 {
		s.audit.Warn(ctx, "file_scan_warning", append(who, zap.Strings("warnings", res.Warnings))...)
	}

	s.audit.Event(ctx, "file_staged", append(who,
		zap.String("temp_id", sf.TempID),
		zap.Int64("size", sf.Size),
		zap.String("detected_mime", res.DetectedMIME),
	)...)
	return sf, nil
}

func (s *uploadService) Preview(_ context.Context, ref string) ([]byte, string, error) {
	return s.stager.Preview(ref)
}
