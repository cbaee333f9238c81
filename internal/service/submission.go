package service

import (
	"context"
	"errors"
	"maps"
	"path"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"formgate/internal/audit"
	"formgate/internal/config"
	"formgate/internal/model"
	"formgate/internal/repository"
	"formgate/internal/scanner"
	"formgate/internal/security"
	"formgate/internal/storage"
	"formgate/internal/upload"
	"formgate/internal/validator"
)

var tracer = otel.Tracer("formgate/service")

// Rate-limit actions.
const (
	ActionSubmission = "form_submission"
	ActionUpload     = "file_upload"
)

// State is the stage a submission attempt reached.
type State string

const (
	StateReceived        State = "received"
	StateCSRFChecked     State = "csrf_checked"
	StateRateLimited     State = "rate_limited"
	StateFieldsValidated State = "fields_validated"
	StateFilesResolved   State = "files_resolved"
	StatePersisted       State = "persisted"
	StatePersistFailed   State = "persist_failed"
)

// CSRFAction is the anti-forgery scope of a form.
func CSRFAction(formID string) string {
	return "form_" + formID
}

// TokenGate issues and consumes anti-forgery tokens. *csrf.Gate implements it.
type TokenGate interface {
	Issue(ctx context.Context, sessionID, action string) (string, error)
	Validate(ctx context.Context, sessionID, action, supplied string) bool
}

// SubmitResult describes an accepted submission.
type SubmitResult struct {
	SubmissionID string                   `json:"submission_id"`
	Files        []model.FileUploadRecord `json:"files"`
	Warnings     []string                 `json:"warnings,omitempty"`
	State        State                    `json:"-"`
}

// SubmissionService runs the submission pipeline.
type SubmissionService interface {
	// Submit checks, validates and persists one attempt. Rejections are returned as
	// ErrSecurityRejection, ErrRateLimited, *ValidationError, ErrFormNotFound or ErrTransient.
	Submit(ctx context.Context, a *model.SubmissionAttempt) (*SubmitResult, error)
}

// Deps are the collaborators of the submission and upload services.
type Deps struct {
	Forms       repository.FormRepository
	Submissions repository.SubmissionRepository
	Store       storage.Storage
	Validator   *validator.Validator
	Scanner     *scanner.Scanner
	Stager      *upload.Stager
	CSRF        TokenGate
	Limiter     security.RateLimiter
	Audit       *audit.Logger
	Metrics     *Metrics
	Policy      config.SecurityPolicy
	Upload      config.UploadConfig
	Now         func() time.Time
}

type submissionService struct {
	forms       repository.FormRepository
	submissions repository.SubmissionRepository
	store       storage.Storage
	validator   *validator.Validator
	scanner     *scanner.Scanner
	stager      *upload.Stager
	csrf        TokenGate
	limiter     security.RateLimiter
	audit       *audit.Logger
	metrics     *Metrics
	policy      config.SecurityPolicy
	cfg         config.UploadConfig
	now         func() time.Time
}

// NewSubmissionService constructs a new SubmissionService.
func NewSubmissionService(d Deps) SubmissionService {
	return newSubmissionService(d)
}

func newSubmissionService(d Deps) *submissionService {
	if d.Audit == nil {
		d.Audit = audit.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &submissionService{
		forms:       d.Forms,
		submissions: d.Submissions,
		store:       d.Store,
		validator:   d.Validator,
		scanner:     d.Scanner,
		stager:      d.Stager,
		csrf:        d.CSRF,
		limiter:     d.Limiter,
		audit:       d.Audit,
		metrics:     d.Metrics,
		policy:      d.Policy,
		cfg:         d.Upload,
		now:         d.Now,
	}
}

func (s *submissionService) Submit(ctx context.Context, a *model.SubmissionAttempt) (*SubmitResult, error) {
	ctx, span := tracer.Start(ctx, "submission.submit", trace.WithAttributes(attribute.String("form.id", a.FormID)))
	defer span.End()

	res, err := s.submit(ctx, a)
	s.metrics.submission(outcomeOf(err))
	if err != nil {
		span.SetStatus(codes.Error, outcomeOf(err))
		if errors.Is(err, ErrTransient) {
			span.RecordError(err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("submission.id", res.SubmissionID))
	return res, nil
}

func (s *submissionService) submit(ctx context.Context, a *model.SubmissionAttempt) (*SubmitResult, error) {
	who := []zap.Field{
		zap.String("form_id", a.FormID),
		zap.String("client_ip", a.ClientIP),
		zap.String("user_agent", security.SanitizeOutput(a.UserAgent)),
	}

	if !s.csrf.Validate(ctx, a.SessionID, CSRFAction(a.FormID), a.CSRFToken) {
		s.audit.Security(ctx, "csrf_rejected", append(who, zap.String("state", string(StateReceived)))...)
		return nil, ErrSecurityRejection
	}

	if err := s.checkRate(ctx, ActionSubmission, a.ClientIP, s.policy.SubmissionLimit, who); err != nil {
		return nil, err
	}
	if security.IsSuspiciousUserAgent(a.UserAgent) {
		s.audit.Security(ctx, "suspicious_user_agent", who...)
	}

	schema, err := s.loadForm(ctx, a.FormID)
	if err != nil {
		return nil, err
	}

	data, fieldErrs := s.validator.ValidateForm(ctx, schema, a.Values)
	if len(fieldErrs) > 0 {
		s.audit.Event(ctx, "submission_rejected", append(who,
			zap.String("state", string(StateCSRFChecked)),
			zap.Strings("fields", sortedKeys(fieldErrs)),
		)...)
		return nil, &ValidationError{Fields: fieldErrs}
	}

	files, warnings, err := s.resolveFiles(ctx, schema, a)
	if err != nil {
		return nil, err
	}

	sub := &model.Submission{
		ID:          uuid.NewString(),
		FormID:      schema.FormID,
		Data:        data,
		SubmittedAt: s.now().UTC(),
		ClientIP:    a.ClientIP,
		UserAgent:   a.UserAgent,
	}
	records, moreWarnings, err := s.commit(ctx, sub, files)
	if err != nil {
		s.audit.Error(ctx, "submission_persist_failed", err, append(who, zap.String("state", string(StatePersistFailed)))...)
		return nil, err
	}
	warnings = append(warnings, moreWarnings...)

	s.audit.Event(ctx, "submission_accepted", append(who,
		zap.String("submission_id", sub.ID),
		zap.Int("files", len(records)),
		zap.String("state", string(StatePersisted)),
	)...)
	return &SubmitResult{SubmissionID: sub.ID, Files: records, Warnings: warnings, State: StatePersisted}, nil
}

func (s *submissionService) checkRate(ctx context.Context, action, ip string, rule config.RateLimitRule, who []zap.Field) error {
	ok, err := s.limiter.Allow(ctx, security.RateLimitKey(action, ip), rule.MaxAttempts, rule.Window)
	if err != nil {
		s.audit.Error(ctx, "rate_limiter_unavailable", err, who...)
		return transient("rate limit", err)
	}
	if !ok {
		s.metrics.rateLimit(action)
		s.audit.Security(ctx, "rate_limit_exceeded", append(who, zap.String("action", action))...)
		return ErrRateLimited
	}
	return nil
}

func (s *submissionService) loadForm(ctx context.Context, formID string) (*model.FormSchema, error) {
	schema, err := s.forms.FindByID(ctx, formID)
	switch {
	case err == nil:
		return schema, nil
	case errors.Is(err, repository.ErrNotFound):
		return nil, ErrFormNotFound
	case errors.Is(err, repository.ErrInvalidSchema):
		s.audit.Error(ctx, "form_schema_invalid", err, zap.String("form_id", formID))
		return nil, ErrFormNotFound
	default:
		return nil, transient("load form", err)
	}
}

// resolveFiles claims and scans every file field. Failures of required fields become
// field errors; failures of optional fields become warnings.
func (s *submissionService) resolveFiles(ctx context.Context, schema *model.FormSchema, a *model.SubmissionAttempt) ([]*resolvedFile, []string, error) {
	ctx, span := tracer.Start(ctx, "submission.resolve_files")
	defer span.End()

	var (
		files    []*resolvedFile
		warnings []string
		threat   bool
	)
	fieldErrs := make(map[string]string)
	for _, f := range schema.FileFields() {
		out, err := s.resolveFile(ctx, schema.FormID, f, a)
		if err != nil {
			s.giveBack(files)
			span.RecordError(err)
			return nil, nil, err
		}
		warnings = append(warnings, out.warnings...)
		switch {
		case out.file != nil:
			files = append(files, out.file)
		case out.fieldErr != "" && f.Required:
			fieldErrs[f.ID] = out.fieldErr
			threat = threat || out.threat
		case out.fieldErr != "":
			warnings = append(warnings, f.ID+": "+out.fieldErr)
			s.audit.Warn(ctx, "optional_file_skipped", zap.String("form_id", schema.FormID), zap.String("field_id", f.ID))
		}
	}
	span.SetAttributes(attribute.Int("files.resolved", len(files)))

	if len(fieldErrs) > 0 {
		s.giveBack(files)
		s.audit.Event(ctx, "submission_rejected",
			zap.String("form_id", schema.FormID),
			zap.String("state", string(StateFieldsValidated)),
			zap.Strings("fields", sortedKeys(fieldErrs)),
		)
		return nil, nil, &ValidationError{Fields: fieldErrs, threat: threat}
	}
	return files, warnings, nil
}

// commit writes the submission and its files in one transaction. Files are promoted
// inside the transaction; on any failure the transaction rolls back and promoted
// files are deleted. Whatever a crash leaves behind is removed by the reconciler.
func (s *submissionService) commit(ctx context.Context, sub *model.Submission, files []*resolvedFile) ([]model.FileUploadRecord, []string, error) {
	ctx, span := tracer.Start(ctx, "submission.commit", trace.WithAttributes(attribute.String("submission.id", sub.ID)))
	defer span.End()

	var (
		promoted []string
		pending  = files
		records  []model.FileUploadRecord
		warnings []string
	)
	fail := func(tx repository.SubmissionTx, op string, err error) ([]model.FileUploadRecord, []string, error) {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.audit.Error(ctx, "submission_rollback_failed", rbErr, zap.String("submission_id", sub.ID))
			}
		}
		for _, key := range promoted {
			if delErr := s.store.Delete(ctx, key); delErr != nil {
				s.audit.Error(ctx, "rollback_delete_failed", delErr, zap.String("key", key))
			}
		}
		s.giveBack(pending)
		span.RecordError(err)
		span.SetStatus(codes.Error, op)
		return nil, nil, transient(op, err)
	}

	tx, err := s.submissions.Begin(ctx)
	if err != nil {
		return fail(nil, "begin transaction", err)
	}
	if err := tx.InsertSubmission(ctx, sub); err != nil {
		return fail(tx, "insert submission", err)
	}

	for len(pending) > 0 {
		rf := pending[0]
		ext := scanner.Extension(rf.staged.TempName)
		key, err := PermanentKey(sub.SubmittedAt, sub.ID, rf.field.ID, ext)
		if err != nil {
			return fail(tx, "name file", err)
		}
		info, err := s.store.Promote(ctx, rf.staged.Path, key, storage.PutObjectOptions{
			ContentType: rf.scan.DetectedMIME,
			Metadata:    map[string]string{"submission-id": sub.ID, "field-id": rf.field.ID},
		})
		if err != nil {
			if !rf.field.Required {
				s.giveBack(pending[:1])
				pending = pending[1:]
				warnings = append(warnings, rf.field.ID+": file could not be stored")
				s.audit.Warn(ctx, "optional_file_skipped",
					zap.String("submission_id", sub.ID),
					zap.String("field_id", rf.field.ID),
					zap.Error(err),
				)
				continue
			}
			return fail(tx, "promote file", err)
		}
		promoted = append(promoted, key)
		pending = pending[1:]
		s.stager.Forget(rf.staged.TempID)

		mimeType := rf.staged.DeclaredType
		if mimeType == "" {
			mimeType = rf.scan.DetectedMIME
		}
		rec := model.FileUploadRecord{
			ID:               uuid.NewString(),
			SubmissionID:     sub.ID,
			FieldID:          rf.field.ID,
			OriginalFilename: rf.staged.OriginalName,
			StoredFilename:   path.Base(key),
			RelativePath:     key,
			SizeBytes:        info.Size,
			MimeType:         mimeType,
			UploadedAt:       sub.SubmittedAt,
		}
		if err := tx.InsertFile(ctx, &rec); err != nil {
			return fail(tx, "insert file", err)
		}
		records = append(records, rec)
	}

	if err := tx.Commit(); err != nil {
		return fail(nil, "commit", err)
	}
	sub.Files = records
	return records, warnings, nil
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}
