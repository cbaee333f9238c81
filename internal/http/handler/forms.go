package handler

import (
	"io"
	"mime/multipart"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"formgate/internal/http/middleware"
	"formgate/internal/model"
	"formgate/internal/service"
	"formgate/internal/session"
)

const (
	csrfField      = "csrf_token"
	tempSuffix     = "_temp"
	tempIDSuffix   = "_temp_id"
	previewPrefix  = "/uploads/preview/"
	acceptedNotice = "Form submitted successfully"
)

type csrfResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
}

type uploadResponse struct {
	Success      bool   `json:"success"`
	TempID       string `json:"temp_id"`
	TempName     string `json:"temp_name"`
	OriginalName string `json:"original_name"`
	Size         int64  `json:"size"`
	Mime         string `json:"mime"`
	PreviewURL   string `json:"preview_url"`
}

type submitResponse struct {
	Success      bool     `json:"success"`
	SubmissionID string   `json:"submission_id"`
	Message      string   `json:"message"`
	Warnings     []string `json:"warnings,omitempty"`
}

// GetForm returns a form definition.
//
// @Summary  Get form definition
// @Tags     forms
// @Produce  json
// @Param    formId path string true "Form ID"
// @Success  200 {object} model.FormSchema
// @Failure  404 {object} errorPayload
// @Router   /forms/{formId} [get]
func GetForm(svc service.FormService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		schema, err := svc.Get(c.UserContext(), c.Params("formId"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(schema)
	}
}

// IssueCSRF returns the anti-forgery token for the caller's session and form.
//
// @Summary  Issue CSRF token
// @Tags     forms
// @Produce  json
// @Param    formId path string true "Form ID"
// @Success  200 {object} csrfResponse
// @Failure  404 {object} errorPayload
// @Router   /forms/{formId}/csrf [get]
func IssueCSRF(svc service.FormService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tok, err := svc.IssueCSRF(c.UserContext(), session.ID(c), c.Params("formId"))
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.JSON(csrfResponse{Success: true, Token: tok})
	}
}

// PreUpload stages one file ahead of the submission (multipart fields: field_id, file).
//
// @Summary  Pre-upload a file
// @Tags     uploads
// @Accept   multipart/form-data
// @Produce  json
// @Param    formId   path     string true "Form ID"
// @Param    field_id formData string true "File field ID"
// @Param    file     formData file   true "File"
// @Success  200 {object} uploadResponse
// @Failure  403 {object} errorPayload
// @Failure  422 {object} errorPayload
// @Failure  429 {object} errorPayload
// @Router   /forms/{formId}/uploads [post]
func PreUpload(svc service.UploadService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req := service.PreUploadRequest{
			FormID:    c.Params("formId"),
			FieldID:   c.FormValue("field_id"),
			ClientIP:  middleware.ClientIP(c),
			UserAgent: c.Get(fiber.HeaderUserAgent),
		}
		if fh, err := c.FormFile("file"); err == nil {
			req.File = incomingFile(fh)
		}

		sf, err := svc.PreUpload(c.UserContext(), req)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(uploadResponse{
			Success:      true,
			TempID:       sf.TempID,
			TempName:     sf.TempName,
			OriginalName: sf.OriginalName,
			Size:         sf.Size,
			Mime:         sf.DeclaredType,
			PreviewURL:   previewPrefix + sf.TempName,
		})
	}
}

// Submit runs the submission pipeline on a form-encoded or multipart body.
//
// @Summary  Submit a form
// @Tags     submissions
// @Accept   multipart/form-data
// @Accept   x-www-form-urlencoded
// @Produce  json
// @Param    formId     path     string true "Form ID"
// @Param    csrf_token formData string true "Anti-forgery token"
// @Success  201 {object} submitResponse
// @Failure  403 {object} errorPayload
// @Failure  422 {object} errorPayload
// @Failure  429 {object} errorPayload
// @Failure  503 {object} errorPayload
// @Router   /forms/{formId}/submissions [post]
func Submit(svc service.SubmissionService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := parseAttempt(c)
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "BAD_REQUEST", "bad request")
		}
		res, err := svc.Submit(c.UserContext(), a)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(submitResponse{
			Success:      true,
			SubmissionID: res.SubmissionID,
			Message:      acceptedNotice,
			Warnings:     res.Warnings,
		})
	}
}

// Preview serves a staged image back to the uploader.
//
// @Summary  Preview a staged image
// @Tags     uploads
// @Produce  png,jpeg,gif
// @Param    tempId path string true "Temp name or id"
// @Success  200
// @Failure  404 {object} errorPayload
// @Failure  415 {object} errorPayload
// @Router   /uploads/preview/{tempId} [get]
func Preview(svc service.UploadService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		b, contentType, err := svc.Preview(c.UserContext(), c.Params("tempId"))
		if err != nil {
			return writeServiceError(c, err)
		}
		c.Set(fiber.HeaderContentType, contentType)
		c.Set(fiber.HeaderCacheControl, "private, no-store")
		c.Set(fiber.HeaderContentDisposition, "inline")
		return c.Send(b)
	}
}

// parseAttempt collects the submitted values, file parts and temp references.
// Repeated keys and keys ending in "[]" become list values.
func parseAttempt(c *fiber.Ctx) (*model.SubmissionAttempt, error) {
	a := &model.SubmissionAttempt{
		FormID:    c.Params("formId"),
		SessionID: session.ID(c),
		Values:    make(map[string]model.RawValue),
		Files:     make(map[string]*model.IncomingFile),
		TempRefs:  make(map[string]string),
		ClientIP:  middleware.ClientIP(c),
		UserAgent: c.Get(fiber.HeaderUserAgent),
		CreatedAt: time.Now().UTC(),
	}

	values := make(map[string][]string)
	if strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm) {
		form, err := c.MultipartForm()
		if err != nil {
			return nil, err
		}
		values = form.Value
		for id, fhs := range form.File {
			if len(fhs) > 0 && fhs[0].Filename != "" {
				a.Files[strings.TrimSuffix(id, "[]")] = incomingFile(fhs[0])
			}
		}
	} else {
		c.Request().PostArgs().VisitAll(func(k, v []byte) {
			values[string(k)] = append(values[string(k)], string(v))
		})
	}

	for key, vs := range values {
		if len(vs) == 0 {
			continue
		}
		switch {
		case key == csrfField:
			a.CSRFToken = vs[0]
		case strings.HasSuffix(key, tempIDSuffix):
			id := strings.TrimSuffix(key, tempIDSuffix)
			if _, ok := a.TempRefs[id]; !ok && vs[0] != "" {
				a.TempRefs[id] = vs[0]
			}
		case strings.HasSuffix(key, tempSuffix):
			if vs[0] != "" {
				a.TempRefs[strings.TrimSuffix(key, tempSuffix)] = vs[0]
			}
		case strings.HasSuffix(key, "[]"):
			a.Values[strings.TrimSuffix(key, "[]")] = model.RawList(vs...)
		case len(vs) > 1:
			a.Values[key] = model.RawList(vs...)
		default:
			a.Values[key] = model.RawString(vs[0])
		}
	}
	return a, nil
}

func incomingFile(fh *multipart.FileHeader) *model.IncomingFile {
	return &model.IncomingFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}
