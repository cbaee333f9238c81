package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(buf *bytes.Buffer) *zap.Logger {
	core := zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), zapcore.AddSync(buf), zap.DebugLevel)
	return zap.New(core)
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestEvent_CarriesRequestID(t *testing.T) {
	var buf bytes.Buffer
	l := New(newBufferLogger(&buf), nil)

	ctx := WithRequestID(context.Background(), "req-123")
	l.Event(ctx, "submission_accepted", zap.String("form_id", "f1"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "submission_accepted", entries[0]["event"])
	assert.Equal(t, "audit", entries[0]["type"])
	assert.Equal(t, "req-123", entries[0]["request_id"])
	assert.Equal(t, "f1", entries[0]["form_id"])
	assert.NotEmpty(t, entries[0]["ts"])
}

func TestSecurity_EscalatesToSuspiciousLog(t *testing.T) {
	var main, suspicious bytes.Buffer
	l := New(newBufferLogger(&main), newBufferLogger(&suspicious))

	l.Security(context.Background(), "rate_limit_exceeded", zap.String("identifier", "form_submission:203.0.113.9"))
	l.Event(context.Background(), "routine")

	assert.Len(t, decodeLines(t, &main), 2)
	sus := decodeLines(t, &suspicious)
	require.Len(t, sus, 1)
	assert.Equal(t, "rate_limit_exceeded", sus[0]["event"])
	assert.Equal(t, "warn", sus[0]["level"])
}

func TestValidationFailure_OmitsValue(t *testing.T) {
	var buf bytes.Buffer
	l := New(newBufferLogger(&buf), nil)

	l.ValidationFailure(context.Background(), "form-1", "comment", "text", "signature")

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "comment", entries[0]["field_id"])
	assert.Equal(t, "text", entries[0]["field_type"])
	assert.Equal(t, "signature", entries[0]["reason"])
	_, hasValue := entries[0]["value"]
	assert.False(t, hasValue)
}

func TestError_IncludesError(t *testing.T) {
	var buf bytes.Buffer
	l := New(newBufferLogger(&buf), nil)

	l.Error(context.Background(), "persist_failed", errors.New("db down"))

	entries := decodeLines(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, "db down", entries[0]["error"])
}

func TestWithRequestID_IgnoresBlank(t *testing.T) {
	ctx := WithRequestID(context.Background(), "   ")
	assert.Equal(t, "", RequestIDFromContext(ctx))
}

func TestNop(t *testing.T) {
	assert.NotPanics(t, func() {
		l := Nop()
		l.Security(context.Background(), "x")
		l.Sync()
	})
}
