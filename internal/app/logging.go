// Package app wires parlor's components together: configuration, the
// core store, the catalogue registry, and the pack manager.
package app

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// LogLevel represents the severity level of a log message.
type LogLevel int

const (
	// LogLevelDebug is for detailed debugging information.
	LogLevelDebug LogLevel = iota
	// LogLevelInfo is for general informational messages.
	LogLevelInfo
	// LogLevelWarn is for warning messages.
	LogLevelWarn
	// LogLevelError is for error messages.
	LogLevelError
)

// String returns the string representation of the log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string into a LogLevel. Unknown strings fall
// back to info.
func ParseLogLevel(s string) LogLevel {
	switch s {
	case "debug", "DEBUG":
		return LogLevelDebug
	case "info", "INFO":
		return LogLevelInfo
	case "warn", "WARN", "warning", "WARNING":
		return LogLevelWarn
	case "error", "ERROR":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Logger provides leveled, structured logging for the host. Pack-facing
// components receive it through the pack API's Logger interface.
type Logger struct {
	mu       sync.Mutex
	level    LogLevel
	output   io.Writer
	prefix   string
	fields   map[string]any
	disabled bool
}

// LoggerConfig configures the logger.
type LoggerConfig struct {
	// Level is the minimum log level to output.
	Level LogLevel
	// Output is where logs are written. Defaults to os.Stderr.
	Output io.Writer
	// Prefix is prepended to all log messages.
	Prefix string
}

// DefaultLoggerConfig returns the default logger configuration.
func DefaultLoggerConfig() LoggerConfig {
	return LoggerConfig{
		Level:  LogLevelInfo,
		Output: os.Stderr,
		Prefix: "parlor",
	}
}

// NewLogger creates a new logger with the given configuration.
func NewLogger(cfg LoggerConfig) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	return &Logger{
		level:  cfg.Level,
		output: cfg.Output,
		prefix: cfg.Prefix,
		fields: make(map[string]any),
	}
}

// WithField returns a new logger with the given field added.
func (l *Logger) WithField(key string, value any) *Logger {
	newFields := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		newFields[k] = v
	}
	newFields[key] = value

	return &Logger{
		level:    l.level,
		output:   l.output,
		prefix:   l.prefix,
		fields:   newFields,
		disabled: l.disabled,
	}
}

// WithFields returns a new logger with the given fields added.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	newFields := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		newFields[k] = v
	}
	for k, v := range fields {
		newFields[k] = v
	}

	return &Logger{
		level:    l.level,
		output:   l.output,
		prefix:   l.prefix,
		fields:   newFields,
		disabled: l.disabled,
	}
}

// WithComponent returns a new logger with the component field set.
func (l *Logger) WithComponent(component string) *Logger {
	return l.WithField("component", component)
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// SetOutput sets the output writer.
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = w
}

// Disable disables all logging.
func (l *Logger) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled = true
}

// Enable enables logging.
func (l *Logger) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disabled = false
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...any) {
	l.log(LogLevelDebug, msg, args...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, args ...any) {
	l.log(LogLevelInfo, msg, args...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...any) {
	l.log(LogLevelWarn, msg, args...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, args ...any) {
	l.log(LogLevelError, msg, args...)
}

// log writes a log message if the level is enabled. The message is only
// treated as a format string when args are present; pack log output may
// contain literal percent signs.
func (l *Logger) log(level LogLevel, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.disabled || level < l.level {
		return
	}

	timestamp := time.Now().Format("2006-01-02T15:04:05.000")

	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}

	var line string
	if l.prefix != "" {
		line = fmt.Sprintf("%s [%s] %s: %s", timestamp, level.String(), l.prefix, msg)
	} else {
		line = fmt.Sprintf("%s [%s] %s", timestamp, level.String(), msg)
	}

	// Sorted so log lines are stable across runs.
	if len(l.fields) > 0 {
		keys := make([]string, 0, len(l.fields))
		for k := range l.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		line += " {"
		for i, k := range keys {
			if i > 0 {
				line += ", "
			}
			line += fmt.Sprintf("%s=%v", k, l.fields[k])
		}
		line += "}"
	}

	line += "\n"

	_, _ = l.output.Write([]byte(line))
}

// NullLogger is a logger that discards all output.
var NullLogger = &Logger{disabled: true}
