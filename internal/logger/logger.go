package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level represents log severity levels.
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

// ParseLevel maps a level name to a Level. Unknown names report false.
func ParseLevel(s string) (Level, bool) {
	switch s {
	case "debug", "DEBUG":
		return LevelDebug, true
	case "info", "INFO":
		return LevelInfo, true
	case "warn", "WARN", "warning":
		return LevelWarn, true
	case "error", "ERROR":
		return LevelError, true
	default:
		return LevelInfo, false
	}
}

// LevelFromEnv reads SMITHERS_LOG_LEVEL, defaulting to info.
func LevelFromEnv() Level {
	lvl, _ := ParseLevel(os.Getenv("SMITHERS_LOG_LEVEL"))
	return lvl
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value interface{}
}

// F creates a new Field.
func F(key string, value interface{}) Field {
	return Field{Key: key, Value: value}
}

// Logger is the interface for all logger implementations.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithFields(fields ...Field) Logger
}

func zerologLevel(l Level) zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// zlogLogger adapts a zerolog.Logger to the Logger interface.
type zlogLogger struct {
	log zerolog.Logger
}

// New creates a console logger with human-readable output.
func New(w io.Writer, level Level) Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	zl := zerolog.New(output).Level(zerologLevel(level)).With().Timestamp().Str("app", "smithers").Logger()
	return &zlogLogger{log: zl}
}

// NewJSON creates a logger that emits one JSON object per line,
// suitable for log files and collectors.
func NewJSON(w io.Writer, level Level) Logger {
	zl := zerolog.New(w).Level(zerologLevel(level)).With().Timestamp().Str("app", "smithers").Logger()
	return &zlogLogger{log: zl}
}

// NewFileLogger creates a JSON logger that appends to a file.
func NewFileLogger(path string, level Level) (Logger, io.Closer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, nil, err
	}
	return NewJSON(file, level), file, nil
}

// NewNopLogger creates a logger that discards everything.
func NewNopLogger() Logger {
	return &zlogLogger{log: zerolog.Nop()}
}

func (z *zlogLogger) emit(ev *zerolog.Event, msg string, fields []Field) {
	for _, f := range fields {
		ev = appendField(ev, f)
	}
	ev.Msg(msg)
}

func appendField(ev *zerolog.Event, f Field) *zerolog.Event {
	switch v := f.Value.(type) {
	case string:
		return ev.Str(f.Key, v)
	case int:
		return ev.Int(f.Key, v)
	case int64:
		return ev.Int64(f.Key, v)
	case bool:
		return ev.Bool(f.Key, v)
	case float64:
		return ev.Float64(f.Key, v)
	case time.Duration:
		return ev.Dur(f.Key, v)
	case time.Time:
		return ev.Time(f.Key, v)
	case error:
		return ev.AnErr(f.Key, v)
	default:
		return ev.Interface(f.Key, v)
	}
}

func (z *zlogLogger) Debug(msg string, fields ...Field) { z.emit(z.log.Debug(), msg, fields) }
func (z *zlogLogger) Info(msg string, fields ...Field)  { z.emit(z.log.Info(), msg, fields) }
func (z *zlogLogger) Warn(msg string, fields ...Field)  { z.emit(z.log.Warn(), msg, fields) }
func (z *zlogLogger) Error(msg string, fields ...Field) { z.emit(z.log.Error(), msg, fields) }

func (z *zlogLogger) WithFields(fields ...Field) Logger {
	ctx := z.log.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.Value)
	}
	return &zlogLogger{log: ctx.Logger()}
}

// MultiLogger composes multiple loggers together.
type MultiLogger struct {
	loggers []Logger
	fields  []Field
}

// NewMultiLogger creates a logger that writes to multiple destinations.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{loggers: loggers}
}

func (m *MultiLogger) Debug(msg string, fields ...Field) {
	allFields := append(m.fields, fields...)
	for _, l := range m.loggers {
		l.Debug(msg, allFields...)
	}
}

func (m *MultiLogger) Info(msg string, fields ...Field) {
	allFields := append(m.fields, fields...)
	for _, l := range m.loggers {
		l.Info(msg, allFields...)
	}
}

func (m *MultiLogger) Warn(msg string, fields ...Field) {
	allFields := append(m.fields, fields...)
	for _, l := range m.loggers {
		l.Warn(msg, allFields...)
	}
}

func (m *MultiLogger) Error(msg string, fields ...Field) {
	allFields := append(m.fields, fields...)
	for _, l := range m.loggers {
		l.Error(msg, allFields...)
	}
}

func (m *MultiLogger) WithFields(fields ...Field) Logger {
	newLoggers := make([]Logger, len(m.loggers))
	copy(newLoggers, m.loggers)
	return &MultiLogger{
		loggers: newLoggers,
		fields:  append(m.fields, fields...),
	}
}
