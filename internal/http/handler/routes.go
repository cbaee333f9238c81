package handler

import (
	"context"
	"database/sql"
	"time"

	"github.com/gofiber/fiber/v2"

	"formgate/internal/database"
	"formgate/internal/http/middleware"
	"formgate/internal/service"
	"formgate/internal/session"
)

// Services groups what the routes depend on.
type Services struct {
	Forms       service.FormService
	Uploads     service.UploadService
	Submissions service.SubmissionService
	Sessions    *session.Manager
	Flood       *middleware.FloodGuard
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay thin: parse, call the service, map the result.
func RegisterRoutes(app *fiber.App, db *sql.DB, s Services) {
	app.Get("/health", HealthCheck(db))
	app.Get("/healthz", LivenessProbe())

	// Every form route needs a session: CSRF tokens are scoped to it.
	forms := app.Group("/forms/:formId", s.Sessions.Middleware())
	forms.Get("/", GetForm(s.Forms))
	forms.Get("/csrf", IssueCSRF(s.Forms))

	writes := []fiber.Handler{}
	if s.Flood != nil {
		writes = append(writes, s.Flood.Handler())
	}
	forms.Post("/uploads", append(writes, PreUpload(s.Uploads))...)
	forms.Post("/submissions", append(writes, Submit(s.Submissions))...)

	app.Get("/uploads/preview/:tempId", Preview(s.Uploads))
}

// HealthCheck checks DB connectivity only.
//
// @Summary  Readiness probe
// @Tags     health
// @Produce  json
// @Success  200 {object} map[string]string
// @Failure  503 {object} errorPayload
// @Router   /health [get]
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx, db); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a dependency-free liveness probe.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}
