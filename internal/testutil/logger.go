package testutil

import (
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled printf-style logging on top of logrus.
type Logger struct {
	l *logrus.Logger
}

const (
	LevelDebug = iota
	LevelInfo
	LevelWarn
	LevelError
)

func logrusLevel(level int) logrus.Level {
	switch level {
	case LevelDebug:
		return logrus.DebugLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelWarn:
		return logrus.WarnLevel
	default:
		return logrus.ErrorLevel
	}
}

// NewLogger creates a new logger writing to w at the given level.
func NewLogger(w io.Writer, level int) *Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetLevel(logrusLevel(level))
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006/01/02 15:04:05",
	})
	return &Logger{l: l}
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.l.Debugf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.l.Infof(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.l.Warnf(format, args...)
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.l.Errorf(format, args...)
}

// Logrus exposes the underlying logrus instance for components that take a
// logrus.FieldLogger directly, like the pool.
func (l *Logger) Logrus() *logrus.Logger { return l.l }

// Timer measures elapsed time.
type Timer struct {
	start time.Time
	name  string
}

func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

func (t *Timer) Log(logger *Logger) {
	logger.Info("%s took %v", t.name, t.Elapsed())
}

// SetupLogging sets up logging to stdout plus a file.
func SetupLogging(path string, level int) (*Logger, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	return NewLogger(multiWriter, level), nil
}

// Global logger instance
var defaultLogger = NewLogger(os.Stdout, LevelInfo)

// SetLevel sets the global logger level.
func SetLevel(level int) {
	defaultLogger.l.SetLevel(logrusLevel(level))
}

func Debug(format string, args ...interface{}) {
	defaultLogger.Debug(format, args...)
}

func Info(format string, args ...interface{}) {
	defaultLogger.Info(format, args...)
}

func Warn(format string, args ...interface{}) {
	defaultLogger.Warn(format, args...)
}

func Error(format string, args ...interface{}) {
	defaultLogger.Error(format, args...)
}
