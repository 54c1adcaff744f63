// Package logging provides the structured logger used across the
// HTTP edge, services, and background workers.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/chatforge/realtime/internal/contextkey"
	"github.com/google/uuid"
)

// Logger wraps log/slog, enriching every call with request/user/session
// attributes pulled from the context.
type Logger struct {
	slog *slog.Logger
}

// New creates a logger at the given level ("debug", "info", "warn", "error").
func New(logLevel string) *Logger {
	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		*level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})

	return &Logger{slog: slog.New(handler)}
}

// WithContext returns a child logger carrying request id, user id, and
// session id attributes found in ctx.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	handler := l.slog.Handler()

	if reqID, ok := ctx.Value(contextkey.ContextKeyRequestID).(uuid.UUID); ok {
		handler = handler.WithAttrs([]slog.Attr{slog.String("request_id", reqID.String())})
	}
	if userID, ok := ctx.Value(contextkey.ContextKeyUserID).(uuid.UUID); ok {
		handler = handler.WithAttrs([]slog.Attr{slog.String("user_id", userID.String())})
	}
	if sessID, ok := ctx.Value(contextkey.ContextKeySessionID).(uuid.UUID); ok {
		handler = handler.WithAttrs([]slog.Attr{slog.String("session_id", sessID.String())})
	}

	return slog.New(handler)
}

// Info logs at Info level.
func (l *Logger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Info(fmt.Sprintf(msg, args...))
}

// Error logs at Error level.
func (l *Logger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
}

// Debug logs at Debug level.
func (l *Logger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Debug(fmt.Sprintf(msg, args...))
}

// Warn logs at Warn level.
func (l *Logger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Warn(fmt.Sprintf(msg, args...))
}

// Fatal logs at Error level and exits. Use only for unrecoverable
// startup failures.
func (l *Logger) Fatal(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(fmt.Sprintf(msg, args...))
	os.Exit(1)
}
