// Package logging provides structured logging with log levels and correlation IDs.
// Loggers are cheap to derive: every component and scan carries its own child
// logger with identifying fields attached.
package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents a log level.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a log level string. Unknown values map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Fields are structured key/value pairs attached to a log entry.
type Fields map[string]interface{}

type contextKey string

const (
	correlationIDKey contextKey = "correlation_id"
	fieldsKey        contextKey = "log_fields"
)

// sink is shared by a logger and all of its children so that writes to the
// same output are serialized.
type sink struct {
	mu     sync.Mutex
	output io.Writer
	level  Level
	json   bool
}

// Logger is a structured logger with level support.
type Logger struct {
	sink   *sink
	fields Fields
}

// Entry represents a single JSON log entry.
type Entry struct {
	Timestamp     string `json:"ts"`
	Level         string `json:"level"`
	Message       string `json:"msg"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Fields        Fields `json:"fields,omitempty"`
}

var defaultLogger = New()

// New creates a logger configured from LOG_LEVEL and LOG_FORMAT.
func New() *Logger {
	level := LevelInfo
	if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
		level = ParseLevel(lvl)
	}

	return &Logger{
		sink: &sink{
			output: os.Stderr,
			level:  level,
			json:   os.Getenv("LOG_FORMAT") == "json",
		},
		fields: Fields{},
	}
}

// NewWithOutput creates a logger writing to w at the given level.
func NewWithOutput(w io.Writer, level Level, jsonFormat bool) *Logger {
	return &Logger{
		sink:   &sink{output: w, level: level, json: jsonFormat},
		fields: Fields{},
	}
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return NewWithOutput(io.Discard, LevelError+1, false)
}

// SetOutput sets the output destination for the logger and its children.
func (l *Logger) SetOutput(w io.Writer) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.output = w
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

// SetJSON enables or disables JSON output format.
func (l *Logger) SetJSON(enabled bool) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.json = enabled
}

// WithField returns a child logger with the given field added.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(Fields{key: value})
}

// WithFields returns a child logger with the given fields added.
func (l *Logger) WithFields(fields Fields) *Logger {
	merged := make(Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{sink: l.sink, fields: merged}
}

// WithError returns a child logger carrying err under the "error" field.
func (l *Logger) WithError(err error) *Logger {
	if err == nil {
		return l
	}
	return l.WithField("error", err.Error())
}

func (l *Logger) enabled(level Level) bool {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return level >= l.sink.level
}

func (l *Logger) log(ctx context.Context, level Level, format string, args ...interface{}) {
	if !l.enabled(level) {
		return
	}

	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}

	correlationID := GetCorrelationID(ctx)

	all := make(Fields, len(l.fields))
	for k, v := range l.fields {
		all[k] = v
	}
	if ctx != nil {
		if ctxFields, ok := ctx.Value(fieldsKey).(Fields); ok {
			for k, v := range ctxFields {
				all[k] = v
			}
		}
	}

	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.json {
		entry := Entry{
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			Level:         level.String(),
			Message:       msg,
			CorrelationID: correlationID,
		}
		if len(all) > 0 {
			entry.Fields = all
		}
		data, err := json.Marshal(entry)
		if err != nil {
			fmt.Fprintf(l.sink.output, "ERROR: failed to marshal log entry: %v\n", err)
			return
		}
		fmt.Fprintln(l.sink.output, string(data))
		return
	}

	parts := []string{}
	if correlationID != "" {
		short := correlationID
		if len(short) > 8 {
			short = short[:8]
		}
		parts = append(parts, fmt.Sprintf("[%s]", short))
	}
	parts = append(parts, fmt.Sprintf("[%s]", level.String()), msg)

	if len(all) > 0 {
		keys := make([]string, 0, len(all))
		for k := range all {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kv := make([]string, 0, len(keys))
		for _, k := range keys {
			kv = append(kv, fmt.Sprintf("%s=%v", k, all[k]))
		}
		parts = append(parts, fmt.Sprintf("{%s}", strings.Join(kv, ", ")))
	}

	fmt.Fprintf(l.sink.output, "%s %s\n", time.Now().Format("2006/01/02 15:04:05"), strings.Join(parts, " "))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(context.Background(), LevelDebug, format, args...)
}

// Info logs an info message.
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(context.Background(), LevelInfo, format, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(context.Background(), LevelWarn, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(context.Background(), LevelError, format, args...)
}

// DebugContext logs a debug message with context.
func (l *Logger) DebugContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ctx, LevelDebug, format, args...)
}

// InfoContext logs an info message with context.
func (l *Logger) InfoContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ctx, LevelInfo, format, args...)
}

// WarnContext logs a warning message with context.
func (l *Logger) WarnContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ctx, LevelWarn, format, args...)
}

// ErrorContext logs an error message with context.
func (l *Logger) ErrorContext(ctx context.Context, format string, args ...interface{}) {
	l.log(ctx, LevelError, format, args...)
}

// --- Context helpers ---

// WithCorrelationID returns a new context with the correlation ID set.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// GetCorrelationID retrieves the correlation ID from context.
func GetCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogFields returns a new context with additional log fields.
func WithLogFields(ctx context.Context, fields Fields) context.Context {
	existing := Fields{}
	if ctxFields, ok := ctx.Value(fieldsKey).(Fields); ok {
		for k, v := range ctxFields {
			existing[k] = v
		}
	}
	for k, v := range fields {
		existing[k] = v
	}
	return context.WithValue(ctx, fieldsKey, existing)
}

// --- Package-level functions using default logger ---

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger.
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Info logs an info message using the default logger.
func Info(format string, args ...interface{}) {
	defaultLogger.log(context.Background(), LevelInfo, format, args...)
}

// Warn logs a warning message using the default logger.
func Warn(format string, args ...interface{}) {
	defaultLogger.log(context.Background(), LevelWarn, format, args...)
}

// Error logs an error message using the default logger.
func Error(format string, args ...interface{}) {
	defaultLogger.log(context.Background(), LevelError, format, args...)
}
