package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	InfoLogger  *logrus.Logger
	ErrorLogger *logrus.Logger
)

// InitLoggers sets up the shared loggers. Info goes to stdout and a rotated
// file, errors to stderr and their own rotated file.
func InitLoggers() {
	logDir := os.Getenv("LOG_DIR")
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		logDir = "."
	}

	InfoLogger = newLogger(logrus.InfoLevel, os.Stdout, logDir+"/info.log")
	ErrorLogger = newLogger(logrus.ErrorLevel, os.Stderr, logDir+"/error.log")
}

func newLogger(level logrus.Level, console io.Writer, file string) *logrus.Logger {
	l := logrus.New()
	l.SetLevel(level)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05Z07:00"})
	l.SetOutput(io.MultiWriter(console, &lumberjack.Logger{
		Filename:   file,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}))
	return l
}

// Info returns the info logger, initializing defaults if InitLoggers was not
// called (tests).
func Info() *logrus.Logger {
	if InfoLogger == nil {
		InfoLogger = logrus.New()
	}
	return InfoLogger
}

func Error() *logrus.Logger {
	if ErrorLogger == nil {
		ErrorLogger = logrus.New()
	}
	return ErrorLogger
}
