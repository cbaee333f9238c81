package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"formgate/internal/config"
	"formgate/internal/model"
	"formgate/internal/repository"
	"formgate/internal/upload"
)

func TestUploadService_PreUpload(t *testing.T) {
	tests := []struct {
		name    string
		fieldID string
		file    *model.IncomingFile
		wantErr error
		field   string
		message string
	}{
		{name: "staged", fieldID: "photo", file: incoming("me.png", pngBytes)},
		{name: "unknown field", fieldID: "avatar", file: incoming("me.png", pngBytes), field: "field_id", message: "Unknown file field"},
		{name: "not a file field", fieldID: "name", file: incoming("me.png", pngBytes), field: "field_id", message: "Unknown file field"},
		{name: "no file", fieldID: "photo", field: "photo", message: "No file uploaded"},
		{name: "empty file", fieldID: "photo", file: incoming("me.png", nil), field: "photo", message: "No file uploaded"},
		{name: "blocked name", fieldID: "resume", file: incoming("invoice.pdf.exe", []byte("hello")), wantErr: ErrThreatDetected},
		{name: "extension outside field allow-list", fieldID: "photo", file: incoming("cv.pdf", []byte("%PDF-1.4\n")), wantErr: ErrThreatDetected},
		{name: "script in image", fieldID: "photo", file: incoming("me.png", append(append([]byte{}, pngBytes...), []byte("<?php system($_GET['c']); ?>")...)), wantErr: ErrThreatDetected},
		{name: "too large", fieldID: "photo", file: incoming("me.png", make([]byte, 2<<20)), field: "photo", message: "File exceeds the maximum size of 1 MB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.forms.On("FindByID", mock.Anything, "apply").Return(applicationForm(), nil)
			svc := NewUploadService(h.deps)

			sf, err := svc.PreUpload(context.Background(), PreUploadRequest{
				FormID:    "apply",
				FieldID:   tt.fieldID,
				File:      tt.file,
				ClientIP:  "198.51.100.4",
				UserAgent: "Mozilla/5.0",
			})

			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, sf)
				assert.Empty(t, quarantined(t, h))
			case tt.message != "":
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.message, verr.Fields[tt.field])
				assert.Empty(t, quarantined(t, h))
			default:
				require.NoError(t, err)
				require.NotNil(t, sf)
				assert.Equal(t, "me.png", sf.OriginalName)
				assert.Equal(t, int64(len(pngBytes)), sf.Size)
				looked, err := h.stager.Lookup(sf.TempID)
				require.NoError(t, err)
				assert.Equal(t, sf.TempName, looked.TempName)
				assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.staged))
			}
		})
	}
}

func TestUploadService_PreUploadRateLimited(t *testing.T) {
	h := newHarness(t)
	h.deps.Policy.UploadLimit = config.RateLimitRule{MaxAttempts: 1, Window: time.Minute}
	h.forms.On("FindByID", mock.Anything, "apply").Return(applicationForm(), nil)
	svc := NewUploadService(h.deps)

	req := PreUploadRequest{FormID: "apply", FieldID: "photo", File: incoming("me.png", pngBytes), ClientIP: "198.51.100.4"}
	_, err := svc.PreUpload(context.Background(), req)
	require.NoError(t, err)

	_, err = svc.PreUpload(context.Background(), req)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.rateLimited.WithLabelValues(ActionUpload)))

	other := req
	other.ClientIP = "198.51.100.5"
	_, err = svc.PreUpload(context.Background(), other)
	assert.NoError(t, err, "limits are per client address")
}

func TestUploadService_PreUploadUnknownForm(t *testing.T) {
	h := newHarness(t)
	h.forms.On("FindByID", mock.Anything, "nope").Return(nil, repository.ErrNotFound)

	_, err := NewUploadService(h.deps).PreUpload(context.Background(), PreUploadRequest{
		FormID: "nope", FieldID: "photo", File: incoming("me.png", pngBytes),
	})
	assert.ErrorIs(t, err, ErrFormNotFound)
}

func TestUploadService_Preview(t *testing.T) {
	h := newHarness(t)
	svc := NewUploadService(h.deps)

	img := stage(t, h, "me.png", pngBytes)
	b, ct, err := svc.Preview(context.Background(), img.TempName)
	require.NoError(t, err)
	assert.Equal(t, "image/png", ct)
	assert.Equal(t, pngBytes, b)

	doc := stage(t, h, "cv.pdf", []byte("%PDF-1.4\n"))
	_, _, err = svc.Preview(context.Background(), doc.TempName)
	assert.ErrorIs(t, err, upload.ErrNotPreviewable)

	_, _, err = svc.Preview(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, upload.ErrNotFound)
}

func TestFormService(t *testing.T) {
	h := newHarness(t)
	h.forms.On("FindByID", mock.Anything, "apply").Return(applicationForm(), nil)
	h.forms.On("FindByID", mock.Anything, "gone").Return(nil, repository.ErrNotFound)
	h.forms.On("FindByID", mock.Anything, "flaky").Return(nil, errors.New("timeout"))
	svc := NewFormService(h.deps)
	ctx := context.Background()

	schema, err := svc.Get(ctx, "apply")
	require.NoError(t, err)
	assert.Equal(t, "Application", schema.Title)

	tok, err := svc.IssueCSRF(ctx, "sess-9", "apply")
	require.NoError(t, err)
	assert.Len(t, tok, 64)
	again, err := svc.IssueCSRF(ctx, "sess-9", "apply")
	require.NoError(t, err)
	assert.Equal(t, tok, again, "an unused token is reissued")
	assert.True(t, h.gate.Validate(ctx, "sess-9", CSRFAction("apply"), tok))

	_, err = svc.IssueCSRF(ctx, "", "apply")
	assert.ErrorIs(t, err, ErrSecurityRejection)

	_, err = svc.IssueCSRF(ctx, "sess-9", "gone")
	assert.ErrorIs(t, err, ErrFormNotFound)

	_, err = svc.Get(ctx, "flaky")
	assert.ErrorIs(t, err, ErrTransient)
}
