package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"formgate/internal/http/middleware"
	"formgate/internal/service"
	"formgate/internal/upload"
)

// errorPayload defines the standardized error response body.
type errorPayload struct {
	Success   bool              `json:"success"`
	RequestID string            `json:"request_id"`
	Error     errorEnvelope     `json:"error"`
	Errors    map[string]string `json:"errors,omitempty"`
}

type errorEnvelope struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	msgRejected = "request could not be processed"
	msgRetry    = "please try again"
)

// writeError writes a standardized JSON error response without leaking internal errors.
//
// Parameters:
// - status: HTTP status code to return
// - code: machine-readable short error code (e.g., "VALIDATION_FAILED", "NOT_FOUND", "INTERNAL_ERROR")
// - message: human-readable safe message (no internal details)
func writeError(c *fiber.Ctx, status int, code, message string) error {
	return writeFieldErrors(c, status, code, message, nil)
}

func writeFieldErrors(c *fiber.Ctx, status int, code, message string, fields map[string]string) error {
	res := errorPayload{
		RequestID: middleware.RequestIDFrom(c),
		Error: errorEnvelope{
			Code:    code,
			Message: message,
		},
		Errors: fields,
	}
	return c.Status(status).JSON(res)
}

// writeServiceError maps pipeline errors to responses. Messages are fixed strings;
// only per-field validation messages, which never echo input, pass through.
func writeServiceError(c *fiber.Ctx, err error) error {
	var verr *service.ValidationError
	switch {
	case errors.Is(err, service.ErrSecurityRejection):
		// Anti-forgery and rate-limit failures share one response.
		return writeError(c, fiber.StatusForbidden, "FORBIDDEN", msgRejected)
	case errors.As(err, &verr):
		msg := "validation failed"
		if errors.Is(err, service.ErrThreatDetected) {
			msg = "file not allowed"
		}
		return writeFieldErrors(c, fiber.StatusUnprocessableEntity, "VALIDATION_FAILED", msg, verr.Fields)
	case errors.Is(err, service.ErrThreatDetected):
		return writeError(c, fiber.StatusUnprocessableEntity, "FILE_REJECTED", "file not allowed")
	case errors.Is(err, service.ErrFormNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "form not found")
	case errors.Is(err, upload.ErrNotFound):
		return writeError(c, fiber.StatusNotFound, "NOT_FOUND", "upload expired or not found")
	case errors.Is(err, upload.ErrNotPreviewable):
		return writeError(c, fiber.StatusUnsupportedMediaType, "NOT_PREVIEWABLE", "file cannot be previewed")
	case errors.Is(err, service.ErrTransient):
		return writeError(c, fiber.StatusServiceUnavailable, "TRY_AGAIN", msgRetry)
	default:
		return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

// ErrorHandler returns a Fiber global error handler that standardizes error responses.
func ErrorHandler() fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			status = e.Code
		}

		switch status {
		case fiber.StatusBadRequest:
			return writeError(c, status, "BAD_REQUEST", "bad request")
		case fiber.StatusNotFound:
			return writeError(c, status, "NOT_FOUND", "resource not found")
		case fiber.StatusMethodNotAllowed:
			return writeError(c, status, "METHOD_NOT_ALLOWED", "method not allowed")
		case fiber.StatusRequestEntityTooLarge:
			return writeError(c, status, "TOO_LARGE", "request body too large")
		case fiber.StatusTooManyRequests:
			return writeError(c, status, "RATE_LIMITED", msgRejected)
		default:
			return writeError(c, status, "INTERNAL_ERROR", "internal server error")
		}
	}
}
