package service

import (
	"context"
	"errors"

	"formgate/internal/csrf"
	"formgate/internal/model"
)

// FormService serves form definitions and their anti-forgery tokens.
type FormService interface {
	Get(ctx context.Context, formID string) (*model.FormSchema, error)
	// IssueCSRF returns the token a client must echo back when submitting formID.
	IssueCSRF(ctx context.Context, sessionID, formID string) (string, error)
}

type formService struct {
	*submissionService
}

// NewFormService constructs a new FormService.
func NewFormService(d Deps) FormService {
	return &formService{newSubmissionService(d)}
}

func (s *formService) Get(ctx context.Context, formID string) (*model.FormSchema, error) {
	return s.loadForm(ctx, formID)
}

func (s *formService) IssueCSRF(ctx context.Context, sessionID, formID string) (string, error) {
	if _, err := s.loadForm(ctx, formID); err != nil {
		return "", err
	}
	tok, err := s.csrf.Issue(ctx, sessionID, CSRFAction(formID))
	if errors.Is(err, csrf.ErrNoSession) {
		return "", ErrSecurityRejection
	}
	if err != nil {
		return "", transient("issue csrf token", err)
	}
	return tok, nil
}
