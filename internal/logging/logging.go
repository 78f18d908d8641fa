// Package logging wraps logrus behind the small leveled interface the
// reader and mirror consume.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Fields map[string]interface{}

// Logger is the leveled logger threaded through every fetch and mirror
// operation.
type Logger interface {
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	Trace(args ...interface{})
	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
	Tracef(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

var defaultLogger = logrus.New()

func init() {
	defaultLogger.SetOutput(os.Stderr)
	defaultLogger.SetLevel(logrus.InfoLevel)
	defaultLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:          true,
		DisableLevelTruncation: true,
		QuoteEmptyFields:       true,
	})
}

// Default returns the process-wide logger.
func Default() Logger {
	return logrusLogger{logrus.NewEntry(defaultLogger)}
}

// Nop returns a logger that discards everything. Used in tests.
func Nop() Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	l.SetLevel(logrus.PanicLevel)
	return logrusLogger{logrus.NewEntry(l)}
}

// SetLevel adjusts the default logger's level. Accepted names: trace,
// debug, info, warn, error, none.
func SetLevel(level string) {
	switch strings.ToLower(level) {
	case "trace", "verbose":
		defaultLogger.SetLevel(logrus.TraceLevel)
	case "debug":
		defaultLogger.SetLevel(logrus.DebugLevel)
	case "info":
		defaultLogger.SetLevel(logrus.InfoLevel)
	case "warn", "warning", "minimal":
		defaultLogger.SetLevel(logrus.WarnLevel)
	case "error":
		defaultLogger.SetLevel(logrus.ErrorLevel)
	case "none", "null":
		defaultLogger.SetLevel(logrus.PanicLevel)
		defaultLogger.SetOutput(io.Discard)
	}
}

// SetOutput routes the default logger: "-" for stdout, "=" for stderr,
// anything else is a file path written through lumberjack rotation.
func SetOutput(output string, fileMaxSizeMB, filesKeep int) {
	switch output {
	case "":
	case "-":
		defaultLogger.SetOutput(os.Stdout)
	case "=":
		defaultLogger.SetOutput(os.Stderr)
	default:
		defaultLogger.SetOutput(&lumberjack.Logger{
			Filename:   output,
			MaxSize:    fileMaxSizeMB,
			MaxBackups: filesKeep,
		})
	}
}

// SetFormat selects the text or json formatter.
func SetFormat(format string) {
	switch strings.ToLower(format) {
	case "text":
		defaultLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:          true,
			DisableLevelTruncation: true,
			QuoteEmptyFields:       true,
		})
	case "json":
		defaultLogger.SetFormatter(&logrus.JSONFormatter{})
	}
}

type logrusLogger struct {
	e *logrus.Entry
}

func (l logrusLogger) WithField(key string, value interface{}) Logger {
	return logrusLogger{l.e.WithField(key, value)}
}

func (l logrusLogger) WithFields(fields Fields) Logger {
	return logrusLogger{l.e.WithFields(logrus.Fields(fields))}
}

func (l logrusLogger) WithError(err error) Logger {
	return logrusLogger{l.e.WithError(err)}
}

func (l logrusLogger) Trace(args ...interface{}) { l.e.Trace(args...) }
func (l logrusLogger) Debug(args ...interface{}) { l.e.Debug(args...) }
func (l logrusLogger) Info(args ...interface{})  { l.e.Info(args...) }
func (l logrusLogger) Warn(args ...interface{})  { l.e.Warn(args...) }
func (l logrusLogger) Error(args ...interface{}) { l.e.Error(args...) }

func (l logrusLogger) Tracef(format string, args ...interface{}) { l.e.Tracef(format, args...) }
func (l logrusLogger) Debugf(format string, args ...interface{}) { l.e.Debugf(format, args...) }
func (l logrusLogger) Infof(format string, args ...interface{})  { l.e.Infof(format, args...) }
func (l logrusLogger) Warnf(format string, args ...interface{})  { l.e.Warnf(format, args...) }
func (l logrusLogger) Errorf(format string, args ...interface{}) { l.e.Errorf(format, args...) }
