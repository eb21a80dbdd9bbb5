// Package logging provides the structured logger used across the composer.
// It is a thin wrapper over logrus so services depend on a stable local API.
package logging

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry bound to a service name.
type Logger struct {
	entry *logrus.Entry
}

// New creates a logger for the named service, honoring LOG_LEVEL and
// LOG_FORMAT (json or text) from the environment.
func New(service string) *Logger {
	base := logrus.New()

	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		base.SetLevel(level)
	}
	if os.Getenv("LOG_FORMAT") == "json" {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{entry: base.WithField("service", service)}
}

// NewDefault creates a logger with default settings; used when a service is
// constructed without an explicit logger.
func NewDefault(service string) *Logger {
	return New(service)
}

// SetOutput redirects log output. Mainly used by tests and examples.
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.Logger.SetOutput(w)
}

// SetLevel adjusts the minimum emitted level.
func (l *Logger) SetLevel(level logrus.Level) {
	l.entry.Logger.SetLevel(level)
}

// WithField returns a logger with an extra structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger with several extra structured fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(fields)}
}

// WithError returns a logger with the error attached as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Debug logs at debug level.
func (l *Logger) Debug(args ...any) { l.entry.Debug(args...) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }

// Info logs at info level.
func (l *Logger) Info(args ...any) { l.entry.Info(args...) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) { l.entry.Infof(format, args...) }

// Warn logs at warning level.
func (l *Logger) Warn(args ...any) { l.entry.Warn(args...) }

// Warnf logs a formatted message at warning level.
func (l *Logger) Warnf(format string, args ...any) { l.entry.Warnf(format, args...) }

// Error logs at error level.
func (l *Logger) Error(args ...any) { l.entry.Error(args...) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// Fatal logs at fatal level and exits.
func (l *Logger) Fatal(args ...any) { l.entry.Fatal(args...) }
