// Package audit is the append-only structured event sink of the pipeline.
// Routine events go to the main logger; security rejections and detected threats
// are additionally written to a separate suspicious-activity log.
package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"formgate/internal/config"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Logger writes fielded audit events.
type Logger struct {
	main       *zap.Logger
	suspicious *zap.Logger
}

// New wraps already-built zap loggers. A nil suspicious logger disables the second sink.
func New(main, suspicious *zap.Logger) *Logger {
	if main == nil {
		main = zap.NewNop()
	}
	if suspicious == nil {
		suspicious = zap.NewNop()
	}
	return &Logger{main: main, suspicious: suspicious}
}

// Nop returns a logger that discards everything. Useful in tests.
func Nop() *Logger { return New(nil, nil) }

// NewFromConfig builds the JSON loggers used in production: stdout for everything,
// a size-rotated file for suspicious activity.
func NewFromConfig(cfg config.LogConfig) (*Logger, error) {
	level := zap.NewAtomicLevel()
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = level
	zcfg.EncoderConfig = EncoderConfig()
	zcfg.Sampling = nil
	main, err := zcfg.Build()
	if err != nil {
		return nil, err
	}

	var suspicious *zap.Logger
	if cfg.SuspiciousFile != "" {
		sink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.SuspiciousFile,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		})
		core := zapcore.NewCore(zapcore.NewJSONEncoder(EncoderConfig()), sink, zap.InfoLevel)
		suspicious = zap.New(core).With(zap.String("log", "suspicious"))
	}
	return New(main, suspicious), nil
}

// EncoderConfig keeps the one-JSON-object-per-line shape with a "ts" RFC3339Nano timestamp.
func EncoderConfig() zapcore.EncoderConfig {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "event"
	enc.EncodeTime = func(t time.Time, pae zapcore.PrimitiveArrayEncoder) {
		pae.AppendString(t.UTC().Format(time.RFC3339Nano))
	}
	return enc
}

// Zap exposes the main logger for components that log outside the audit vocabulary.
func (l *Logger) Zap() *zap.Logger { return l.main }

func (l *Logger) fields(ctx context.Context, fields []zap.Field) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+2)
	out = append(out, zap.String("type", "audit"))
	if rid := RequestIDFromContext(ctx); rid != "" {
		out = append(out, zap.String("request_id", rid))
	}
	return append(out, fields...)
}

// Event records a routine audit event.
func (l *Logger) Event(ctx context.Context, event string, fields ...zap.Field) {
	l.main.Info(event, l.fields(ctx, fields)...)
}

// Warn records a degraded but non-fatal outcome.
func (l *Logger) Warn(ctx context.Context, event string, fields ...zap.Field) {
	l.main.Warn(event, l.fields(ctx, fields)...)
}

// Error records a failure that surfaced to the caller as a transient error.
func (l *Logger) Error(ctx context.Context, event string, err error, fields ...zap.Field) {
	l.main.Error(event, l.fields(ctx, append(fields, zap.Error(err)))...)
}

// Security records an event that is escalated to the suspicious-activity log.
func (l *Logger) Security(ctx context.Context, event string, fields ...zap.Field) {
	fs := l.fields(ctx, fields)
	l.main.Warn(event, fs...)
	l.suspicious.Warn(event, fs...)
}

// ValidationFailure reports a rejected field. The offending value is never logged.
func (l *Logger) ValidationFailure(ctx context.Context, formID, fieldID, kind, reason string) {
	l.Event(ctx, "field_validation_failed",
		zap.String("form_id", formID),
		zap.String("field_id", fieldID),
		zap.String("field_type", kind),
		zap.String("reason", reason),
	)
}

// Sync flushes both sinks.
func (l *Logger) Sync() {
	_ = l.main.Sync()
	_ = l.suspicious.Sync()
}
