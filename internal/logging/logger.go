// Package logging provides the structured logger shared by every component.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is the minimum severity a Logger emits
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Field carries structured context attached to a single log line
type Field map[string]interface{}

// WithField builds a Field holding one key/value pair
func WithField(key string, value interface{}) Field {
	return Field{key: value}
}

// WithFields builds a Field from an existing map
func WithFields(fields map[string]interface{}) Field {
	return Field(fields)
}

// Logger writes JSON log lines through logrus
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger writing to stdout at the given level
func New(level Level) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter creates a logger writing to w. Tests use it to capture output.
func NewWithWriter(level Level, w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetLevel(toLogrus(level))
	return &Logger{entry: logrus.NewEntry(l)}
}

// ParseLevel maps a config string to a Level, defaulting to info
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// With returns a child logger that adds fields to every line
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{entry: l.entry.WithFields(merge(fields))}
}

func (l *Logger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(merge(fields)).Debug(msg)
}

func (l *Logger) Info(msg string, fields ...Field) {
	l.entry.WithFields(merge(fields)).Info(msg)
}

func (l *Logger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(merge(fields)).Warn(msg)
}

func (l *Logger) Error(msg string, fields ...Field) {
	l.entry.WithFields(merge(fields)).Error(msg)
}

func merge(fields []Field) logrus.Fields {
	out := make(logrus.Fields)
	for _, f := range fields {
		for k, v := range f {
			if err, ok := v.(error); ok && err != nil {
				v = err.Error()
			}
			out[k] = v
		}
	}
	return out
}

func toLogrus(level Level) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelWarn:
		return logrus.WarnLevel
	case LevelError:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
