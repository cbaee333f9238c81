package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSecurityRejection covers anti-forgery and rate-limit failures. Its text is safe to show.
	ErrSecurityRejection = errors.New("request could not be processed")
	// ErrRateLimited is a SecurityRejection caused by too many attempts.
	ErrRateLimited = fmt.Errorf("%w: rate limited", ErrSecurityRejection)
	// ErrThreatDetected is returned when a file fails the scanner.
	ErrThreatDetected = errors.New("file not allowed")
	// ErrTransient wraps disk, storage and database failures.
	ErrTransient = errors.New("please try again")
	// ErrFormNotFound is returned for unknown or inactive forms.
	ErrFormNotFound = errors.New("form not found")
)

// ValidationError carries safe, per-field messages keyed by field id.
type ValidationError struct {
	Fields map[string]string
	threat bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %d field(s)", len(e.Fields))
}

// Is lets errors.Is(err, ErrThreatDetected) match when a field failed the scanner.
func (e *ValidationError) Is(target error) bool {
	return target == ErrThreatDetected && e.threat
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransient, op, err)
}
