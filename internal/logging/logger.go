package logging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Format represents the output format for logs
type Format int

const (
	// FormatConsole is human-readable console output
	FormatConsole Format = iota
	// FormatJSON is structured JSON output
	FormatJSON
)

// Level represents a logging level
type Level int

const (
	// DebugLevel is for debug messages
	DebugLevel Level = iota
	// InfoLevel is for informational messages
	InfoLevel
	// WarnLevel is for warning messages
	WarnLevel
	// ErrorLevel is for error messages
	ErrorLevel
)

// String returns the string representation of a Level
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) Level {
	level, err := ParseLevelStrict(s)
	if err != nil {
		return InfoLevel
	}
	return level
}

// ParseLevelStrict converts a string to a Level and rejects unknown names
func ParseLevelStrict(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug", "trace":
		return DebugLevel, nil
	case "info":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) logrus() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func fromLogrus(l logrus.Level) Level {
	switch l {
	case logrus.DebugLevel, logrus.TraceLevel:
		return DebugLevel
	case logrus.InfoLevel:
		return InfoLevel
	case logrus.WarnLevel:
		return WarnLevel
	default:
		return ErrorLevel
	}
}

// Logger provides structured logging capabilities
type Logger struct {
	level  Level
	format Format
	output io.Writer

	base  *logrus.Logger
	entry *logrus.Entry
}

// New creates a new Logger with the specified level and console format
func New(level Level) *Logger {
	return newLogger(level, FormatConsole, os.Stdout)
}

// NewWithFormat creates a new Logger with the specified level and format
func NewWithFormat(level Level, format Format) *Logger {
	return newLogger(level, format, os.Stdout)
}

// NewWithOutput creates a new Logger with the specified level and output writer
func NewWithOutput(level Level, output io.Writer) *Logger {
	return newLogger(level, FormatConsole, output)
}

// NewWithFormatOutput creates a new Logger with the specified level, format and output writer
func NewWithFormatOutput(level Level, format Format, output io.Writer) *Logger {
	return newLogger(level, format, output)
}

// Discard returns a logger that drops everything, used as a default in tests and libraries
func Discard() *Logger {
	return newLogger(ErrorLevel, FormatConsole, io.Discard)
}

func newLogger(level Level, format Format, output io.Writer) *Logger {
	base := logrus.New()
	base.SetOutput(output)
	base.SetLevel(level.logrus())
	if format == FormatJSON {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	} else {
		base.SetFormatter(&consoleFormatter{})
	}

	return &Logger{
		level:  level,
		format: format,
		output: output,
		base:   base,
		entry:  logrus.NewEntry(base),
	}
}

// SetLevel changes the logging level
func (l *Logger) SetLevel(level Level) {
	l.level = level
	l.base.SetLevel(level.logrus())
}

// With returns a child logger that always carries the given fields
func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.entry = l.entry.WithFields(toLogrus(fields))
	return &child
}

// Named returns a child logger tagged with a component name, used as the event target
func (l *Logger) Named(component string) *Logger {
	return l.With(String(TargetKey, component))
}

// AddHook registers a logrus hook on the underlying logger, shared by all children
func (l *Logger) AddHook(hook logrus.Hook) {
	l.base.AddHook(hook)
}

// Debug logs a debug message with optional fields
func (l *Logger) Debug(msg string, fields ...Field) {
	l.log(DebugLevel, msg, fields...)
}

// Info logs an informational message with optional fields
func (l *Logger) Info(msg string, fields ...Field) {
	l.log(InfoLevel, msg, fields...)
}

// Warn logs a warning message with optional fields
func (l *Logger) Warn(msg string, fields ...Field) {
	l.log(WarnLevel, msg, fields...)
}

// Error logs an error message with optional fields
func (l *Logger) Error(msg string, fields ...Field) {
	l.log(ErrorLevel, msg, fields...)
}

func (l *Logger) log(level Level, msg string, fields ...Field) {
	if level < l.level {
		return
	}
	entry := l.entry
	if len(fields) > 0 {
		entry = entry.WithFields(toLogrus(fields))
	}
	entry.Log(level.logrus(), msg)
}

func toLogrus(fields []Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		out[f.Key] = f.Value
	}
	return out
}

// consoleFormatter renders "TIMESTAMP LEVEL message key=value ..."
type consoleFormatter struct{}

func (f *consoleFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(e.Time.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(fromLogrus(e.Level).String())
	b.WriteByte(' ')
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		fmt.Fprintf(&b, "%v", e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

type contextKey struct{}

// WithContext stores the logger in the context
func WithContext(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the logger stored in the context, or a default console logger
func FromContext(ctx context.Context) *Logger {
	if logger, ok := ctx.Value(contextKey{}).(*Logger); ok && logger != nil {
		return logger
	}
	return New(InfoLevel)
}

// Field represents a structured logging field
type Field struct {
	Key   string
	Value any
}

// String creates a Field with a string value
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates a Field with an integer value
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Int64 creates a Field with an int64 value
func Int64(key string, value int64) Field {
	return Field{Key: key, Value: value}
}

// Bool creates a Field with a boolean value
func Bool(key string, value bool) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a Field with a duration value
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value.String()}
}

// Error creates a Field with an error value
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: "<nil>"}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Any creates a Field with any value
func Any(key string, value any) Field {
	return Field{Key: key, Value: value}
}
