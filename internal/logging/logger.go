package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents different log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
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

// Verbosity selects how much the bridge reports about itself.
type Verbosity int

const (
	// VerbositySilent suppresses every message.
	VerbositySilent Verbosity = iota
	// VerbosityErrorsOnly reports errors only.
	VerbosityErrorsOnly
	// VerbosityNormal reports informational messages, warnings and errors.
	VerbosityNormal
)

// String returns the configuration spelling of the verbosity.
func (v Verbosity) String() string {
	switch v {
	case VerbositySilent:
		return "silent"
	case VerbosityErrorsOnly:
		return "errors-only"
	case VerbosityNormal:
		return "normal"
	default:
		return "unknown"
	}
}

// ParseVerbosity parses the spellings accepted in config files and flags.
func ParseVerbosity(s string) (Verbosity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "silent", "quiet", "0":
		return VerbositySilent, nil
	case "errors-only", "errorsonly", "errors", "1":
		return VerbosityErrorsOnly, nil
	case "normal", "", "2":
		return VerbosityNormal, nil
	default:
		return VerbosityNormal, fmt.Errorf("unknown verbosity %q (supported: silent, errors-only, normal)", s)
	}
}

// minLevel is the lowest level a verbosity lets through.
func (v Verbosity) minLevel() LogLevel {
	switch v {
	case VerbositySilent:
		return LevelError + 1
	case VerbosityErrorsOnly:
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger interface for structured logging
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

// BridgeLogger implements structured logging for devbridge
type BridgeLogger struct {
	logger    *slog.Logger
	level     LogLevel
	component string
	fields    map[string]interface{}
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level     LogLevel
	Verbosity Verbosity
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

// DefaultConfig returns default logger configuration
func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{
		Level:     LevelInfo,
		Verbosity: VerbosityNormal,
		Format:    "text",
		Output:    os.Stdout,
		Component: "devbridge",
	}
}

// NewLogger creates a new structured logger
func NewLogger(config *LoggerConfig) *BridgeLogger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	level := config.Level
	if min := config.Verbosity.minLevel(); min > level {
		level = min
	}

	opts := &slog.HandlerOptions{
		Level:     slog.Level(level*4 - 4),
		AddSource: config.AddSource,
	}

	var handler slog.Handler
	if config.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return &BridgeLogger{
		logger:    slog.New(handler),
		level:     level,
		component: config.Component,
		fields:    make(map[string]interface{}),
	}
}

// Discard returns a logger that drops everything.
func Discard() *BridgeLogger {
	return NewLogger(&LoggerConfig{Verbosity: VerbositySilent, Output: io.Discard})
}

// Debug logs a debug message
func (l *BridgeLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	if l.level > LevelDebug {
		return
	}
	l.log(ctx, slog.LevelDebug, nil, msg, fields...)
}

// Info logs an info message
func (l *BridgeLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	if l.level > LevelInfo {
		return
	}
	l.log(ctx, slog.LevelInfo, nil, msg, fields...)
}

// Warn logs a warning message
func (l *BridgeLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	if l.level > LevelWarn {
		return
	}
	l.log(ctx, slog.LevelWarn, err, msg, fields...)
}

// Error logs an error message
func (l *BridgeLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	if l.level > LevelError {
		return
	}
	l.log(ctx, slog.LevelError, err, msg, fields...)
}

// With creates a new logger with additional fields
func (l *BridgeLogger) With(fields ...interface{}) Logger {
	newFields := make(map[string]interface{}, len(l.fields)+len(fields)/2)
	for k, v := range l.fields {
		newFields[k] = v
	}

	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			newFields[key] = fields[i+1]
		}
	}

	return &BridgeLogger{
		logger:    l.logger,
		level:     l.level,
		component: l.component,
		fields:    newFields,
	}
}

// WithComponent creates a new logger with component context
func (l *BridgeLogger) WithComponent(component string) Logger {
	return &BridgeLogger{
		logger:    l.logger,
		level:     l.level,
		component: component,
		fields:    l.fields,
	}
}

// log is the internal logging method
func (l *BridgeLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields ...interface{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := make([]slog.Attr, 0, len(l.fields)+len(fields)/2+2)

	if l.component != "" {
		attrs = append(attrs, slog.String("component", l.component))
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}

	for k, v := range l.fields {
		attrs = append(attrs, slog.Any(k, v))
	}

	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			attrs = append(attrs, slog.Any(key, fields[i+1]))
		}
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	record.AddAttrs(attrs...)

	_ = l.logger.Handler().Handle(ctx, record)
}
