// Package logger provides structured key/value logging for the collector.
//
// Call sites pass a message followed by alternating keys and values:
//
//	logger.Warn("fetch failed", "account", acct.ID, "platform", p, "date", d, "error", err)
//
// Entries are written as JSON lines through zerolog. Values whose key looks
// like a secret are masked before they reach the output.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Level represents the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

func (l Level) String() string { return levelNames[l] }

func (l Level) zerolog() zerolog.Level {
	switch l {
	case DEBUG:
		return zerolog.DebugLevel
	case WARN:
		return zerolog.WarnLevel
	case ERROR:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ParseLevel converts a config string ("debug", "INFO", ...) into a Level.
// Unknown values fall back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DEBUG
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// Logger is a leveled key/value logger with optional secret redaction.
type Logger struct {
	mu     sync.RWMutex
	zl     zerolog.Logger
	redact bool
}

// New creates a Logger writing JSON lines to w.
func New(w io.Writer, level Level) *Logger {
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl, redact: true}
}

var defaultLogger = New(os.Stderr, INFO)

// Default returns the package-level logger.
func Default() *Logger { return defaultLogger }

// SetLevel sets the minimum log level for the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.zl = defaultLogger.zl.Level(l.zerolog())
	defaultLogger.mu.Unlock()
}

// SetOutput redirects the default logger, keeping its level.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.zl = defaultLogger.zl.Output(w)
	defaultLogger.mu.Unlock()
}

// SetRedact enables or disables secret redaction for the default logger.
func SetRedact(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redact = r
	defaultLogger.mu.Unlock()
}

// With returns a child logger that stamps every entry with the given fields.
func With(fields ...interface{}) *Logger { return defaultLogger.With(fields...) }

// Debug emits a DEBUG-level structured log entry.
func Debug(msg string, fields ...interface{}) { defaultLogger.Debug(msg, fields...) }

// Info emits an INFO-level structured log entry.
func Info(msg string, fields ...interface{}) { defaultLogger.Info(msg, fields...) }

// Warn emits a WARN-level structured log entry.
func Warn(msg string, fields ...interface{}) { defaultLogger.Warn(msg, fields...) }

// Error emits an ERROR-level structured log entry.
func Error(msg string, fields ...interface{}) { defaultLogger.Error(msg, fields...) }

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(fields ...interface{}) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ctx := l.zl.With()
	for i := 0; i < len(fields)-1; i += 2 {
		key, val := l.pair(fields[i], fields[i+1])
		ctx = ctx.Str(key, val)
	}
	return &Logger{zl: ctx.Logger(), redact: l.redact}
}

func (l *Logger) Debug(msg string, fields ...interface{}) { l.log(DEBUG, msg, fields...) }
func (l *Logger) Info(msg string, fields ...interface{})  { l.log(INFO, msg, fields...) }
func (l *Logger) Warn(msg string, fields ...interface{})  { l.log(WARN, msg, fields...) }
func (l *Logger) Error(msg string, fields ...interface{}) { l.log(ERROR, msg, fields...) }

func (l *Logger) log(level Level, msg string, fields ...interface{}) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ev := l.zl.WithLevel(level.zerolog())
	if ev == nil {
		return
	}
	for i := 0; i < len(fields)-1; i += 2 {
		key, val := l.pair(fields[i], fields[i+1])
		ev = ev.Str(key, val)
	}
	ev.Msg(msg)
}

func (l *Logger) pair(k, v interface{}) (string, string) {
	key := fmt.Sprintf("%v", k)
	val := fmt.Sprintf("%v", v)
	if l.redact {
		val = redactValue(key, val)
	}
	return key, val
}
