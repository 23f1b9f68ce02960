package logging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Logger wraps structured logging with OpenTelemetry integration. Every
// entry carries the service name it was constructed with plus, when
// available, the trace/span IDs of the active span, so a log line and the
// fetch/request span it belongs to can be correlated in a single query.
type Logger struct {
	slogger *slog.Logger
	tracer  trace.Tracer
	service string
}

// NewLogger builds a Logger that emits JSON to stdout and tags every entry
// with service.
func NewLogger(service string) *Logger {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "timestamp"
			}
			return a
		},
	})

	return &Logger{
		slogger: slog.New(handler),
		tracer:  otel.Tracer(service),
		service: service,
	}
}

// Debug logs a debug-level message with trace correlation.
func (l *Logger) Debug(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelDebug, msg, attrs...)
}

// Info logs an informational message with trace correlation.
func (l *Logger) Info(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelInfo, msg, attrs...)
}

// Warn logs a warning with trace correlation.
func (l *Logger) Warn(ctx context.Context, msg string, attrs ...slog.Attr) {
	l.logWithTrace(ctx, slog.LevelWarn, msg, attrs...)
}

// Error logs err and marks the active span (if any) as failed.
func (l *Logger) Error(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetStatus(codes.Error, err.Error())
			span.RecordError(err)
		}
	}

	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
}

// Fatal logs err at error level, then terminates the process. Reserved for
// startup failures discovered after the logger itself is constructed —
// earlier failures (flag/config parsing) still go through the stdlib
// log.Fatal in cmd/proxy/main.go, since no structured logger exists yet at
// that point.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, attrs ...slog.Attr) {
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	l.logWithTrace(ctx, slog.LevelError, msg, attrs...)
	os.Exit(1)
}

// logWithTrace tags attrs with the active span's trace/span IDs (when one
// exists), the logger's service name, and a timestamp, then emits the
// entry.
func (l *Logger) logWithTrace(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", span.SpanContext().TraceID().String()),
			slog.String("span_id", span.SpanContext().SpanID().String()),
		)
	}

	attrs = append(attrs,
		slog.String("service", l.service),
		slog.Time("timestamp", time.Now()),
	)

	l.slogger.LogAttrs(ctx, level, msg, attrs...)
}

// StartSpan opens a span under the logger's tracer.
func (l *Logger) StartSpan(ctx context.Context, operationName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, operationName, trace.WithAttributes(attrs...))
}

// WithFields returns a derived Logger that prepends attrs to every entry it
// logs, letting a caller attach per-connection context (client IP, request
// target) once instead of repeating it on every call site. Used by
// internal/handler to scope a connection's log lines.
func (l *Logger) WithFields(attrs ...slog.Attr) *Logger {
	anyAttrs := make([]any, len(attrs))
	for i, a := range attrs {
		anyAttrs[i] = a
	}
	return &Logger{
		slogger: l.slogger.With(anyAttrs...),
		tracer:  l.tracer,
		service: l.service,
	}
}

// HTTPRequestLogger wraps an http.Handler with request/response logging and
// span tagging, for the admin HTTP surface. It has no counterpart on the
// main proxy path, which speaks raw bytes over net.Conn rather than
// http.Handler and is logged directly by internal/handler instead.
func (l *Logger) HTTPRequestLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ctx, span := l.StartSpan(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.String()),
				attribute.String("http.remote_addr", r.RemoteAddr),
			)
			defer span.End()

			wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r.WithContext(ctx))

			duration := time.Since(start)
			l.Info(ctx, "admin request completed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapper.statusCode),
				slog.Duration("duration", duration),
				slog.String("remote_addr", r.RemoteAddr),
			)

			span.SetAttributes(attribute.Int("http.status_code", wrapper.statusCode))
			if wrapper.statusCode >= 400 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", wrapper.statusCode))
			}
		})
	}
}

// responseWriter captures the status code written through it so
// HTTPRequestLogger can log and tag it after the handler returns.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
