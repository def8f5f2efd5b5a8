// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
)

// Logger wraps slog.Logger to provide specialized logging methods.
type Logger struct {
	*slog.Logger
}

// GlobalLogger is the default logger instance for the application. It writes
// JSON to stderr; stdout belongs to command output such as `watch`.
var GlobalLogger *Logger

// level is shared by every logger in the process, including ones created
// before LOG_LEVEL was read.
var level = new(slog.LevelVar)

func init() {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	GlobalLogger = &Logger{Logger: slog.New(handler)}
}

// Level returns the process-wide log level for handlers built elsewhere.
func Level() slog.Leveler {
	return level
}

// SetLevel changes the level of every logger in the process.
func SetLevel(l slog.Level) {
	level.Set(l)
}

// ParseLevel reads a LOG_LEVEL value: debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// LogContextKey is a type for context keys used by the logging package.
type LogContextKey string

// Context keys for logging
const (
	CorrelationID LogContextKey = "correlation_id"
	ThreadKey     LogContextKey = "thread_key"
)

// LoggingConfig defines which types of automated logging are enabled.
type LoggingConfig struct {
	EnableCorrelationID bool
	EnableTransportLogs bool
	EnableFeedLogs      bool
}

var (
	// Config holds the current logging configuration.
	Config = LoggingConfig{
		EnableCorrelationID: true,
		EnableTransportLogs: true,
		EnableFeedLogs:      true,
	}
)

// GenerateCorrelationID creates a new unique correlation ID.
func GenerateCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationID returns a new context with the given correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationID, id)
}

// EnsureCorrelationID returns ctx unchanged when it already carries a correlation ID.
func EnsureCorrelationID(ctx context.Context) context.Context {
	if !Config.EnableCorrelationID || ExtractCorrelationID(ctx) != "" {
		return ctx
	}
	return WithCorrelationID(ctx, GenerateCorrelationID())
}

// ExtractCorrelationID retrieves the correlation ID from the context.
func ExtractCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationID).(string); ok {
		return id
	}
	return ""
}

// TransportLogger provides structured logging for document transport operations.
type TransportLogger struct {
	collection string
	backend    string
	logger     *Logger
}

// NewTransportLogger creates a new TransportLogger for the given collection and backend.
func NewTransportLogger(collection, backend string) *TransportLogger {
	return &TransportLogger{
		collection: collection,
		backend:    backend,
		logger:     GlobalLogger,
	}
}

func (l *TransportLogger) attrs(ctx context.Context, operation string, fields map[string]interface{}) []any {
	attrs := []any{
		slog.String("collection", l.collection),
		slog.String("backend", l.backend),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	return attrs
}

// LogCreate logs a document insert.
func (l *TransportLogger) LogCreate(ctx context.Context, fields map[string]interface{}) {
	if !Config.EnableTransportLogs {
		return
	}
	l.logger.InfoContext(ctx, "transport create", l.attrs(ctx, "create", fields)...)
}

// LogRead logs a query.
func (l *TransportLogger) LogRead(ctx context.Context, fields map[string]interface{}) {
	if !Config.EnableTransportLogs {
		return
	}
	l.logger.DebugContext(ctx, "transport read", l.attrs(ctx, "read", fields)...)
}

// LogUpdate logs an atomic update.
func (l *TransportLogger) LogUpdate(ctx context.Context, fields map[string]interface{}) {
	if !Config.EnableTransportLogs {
		return
	}
	l.logger.InfoContext(ctx, "transport update", l.attrs(ctx, "update", fields)...)
}

// LogError logs a transport error.
func (l *TransportLogger) LogError(ctx context.Context, err error, operation string) {
	if !Config.EnableTransportLogs {
		return
	}
	l.logger.ErrorContext(ctx, "transport error",
		slog.String("collection", l.collection),
		slog.String("backend", l.backend),
		slog.String("operation", operation),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
		slog.String("error", err.Error()),
	)
}

// FeedLogger provides structured logging for change-feed subscriptions.
type FeedLogger struct {
	feedName string
	logger   *Logger
}

// NewFeedLogger creates a new FeedLogger for the given feed.
func NewFeedLogger(feedName string) *FeedLogger {
	return &FeedLogger{
		feedName: feedName,
		logger:   GlobalLogger,
	}
}

// LogSubscribe logs a new subscription.
func (l *FeedLogger) LogSubscribe(ctx context.Context, threadKey string, active int) {
	if !Config.EnableFeedLogs {
		return
	}
	l.logger.InfoContext(ctx, "feed subscribed",
		slog.String("feed", l.feedName),
		slog.String("thread_key", threadKey),
		slog.Int("active", active),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogUnsubscribe logs a released subscription.
func (l *FeedLogger) LogUnsubscribe(ctx context.Context, threadKey string, active int) {
	if !Config.EnableFeedLogs {
		return
	}
	l.logger.InfoContext(ctx, "feed unsubscribed",
		slog.String("feed", l.feedName),
		slog.String("thread_key", threadKey),
		slog.Int("active", active),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogError logs a feed error.
func (l *FeedLogger) LogError(ctx context.Context, threadKey string, err error, eventType string) {
	if !Config.EnableFeedLogs {
		return
	}
	l.logger.ErrorContext(ctx, "feed error",
		slog.String("feed", l.feedName),
		slog.String("thread_key", threadKey),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}

// LogLifecycle logs a feed lifecycle event.
func (l *FeedLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !Config.EnableFeedLogs {
		return
	}
	attrs := []any{
		slog.String("feed", l.feedName),
		slog.String("event", event),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	l.logger.InfoContext(ctx, "feed lifecycle", attrs...)
}

// StructuredLogger provides a general-purpose structured logger.
type StructuredLogger struct{}

// NewStructuredLogger creates a new StructuredLogger instance.
func NewStructuredLogger() *StructuredLogger {
	return &StructuredLogger{}
}

// LogServiceCall logs a service method call.
func (l *StructuredLogger) LogServiceCall(ctx context.Context, service, method string, fields map[string]interface{}) {
	attrs := []any{
		slog.String("service", service),
		slog.String("method", method),
		slog.String("type", "service_call"),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	GlobalLogger.InfoContext(ctx, "service call", attrs...)
}

// LogServiceError logs a failed service method call.
func (l *StructuredLogger) LogServiceError(ctx context.Context, service, method string, err error) {
	GlobalLogger.WarnContext(ctx, "service call failed",
		slog.String("service", service),
		slog.String("method", method),
		slog.String("error", err.Error()),
		slog.String("correlation_id", ExtractCorrelationID(ctx)),
	)
}
