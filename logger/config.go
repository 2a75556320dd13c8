package logger

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultTimestampFormat = time.RFC3339

// Config describes logging configuration.
type Config struct {
	// Level is the logging level: "debug", "info", "warn" or "error".
	Level string
	// Formatter is "text" or "json".
	Formatter string
	// OutputFile appends logs to the given file instead of stderr, when set.
	OutputFile string
}

// DefaultConfig returns a Config instance with default values.
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Formatter: "text",
	}
}

// Configure configures the logging level, format and output path.
func (l *logger) Configure(conf Config) {
	switch strings.ToLower(conf.Level) {
	case "debug":
		l.base.SetLevel(logrus.DebugLevel)
	case "warn":
		l.base.SetLevel(logrus.WarnLevel)
	case "error":
		l.base.SetLevel(logrus.ErrorLevel)
	default:
		l.base.SetLevel(logrus.InfoLevel)
	}

	switch conf.Formatter {
	case "json":
		l.base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: defaultTimestampFormat,
		})
	// Default to text
	default:
		l.base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: defaultTimestampFormat,
		})
	}

	if conf.OutputFile != "" {
		logFile, err := os.OpenFile(
			conf.OutputFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666,
		)
		if err != nil {
			l.Error("Can't open log output", "output", conf.OutputFile)
		} else {
			l.SetOutput(logFile)
		}
	}
}
