// Package logger provides structured logging for all MAcWorP processes.
package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// PrintSimpleError prints an error message to stderr without any
// structured formatting, for CLI errors before a logger is configured.
func PrintSimpleError(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
}

// Logger handles structured log messages. Arguments after the message
// are alternating key-value pairs which are written as structured fields.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	WithFields(args ...interface{}) Logger
	SetOutput(w io.Writer)
	Configure(conf Config)
}

// New returns a new Logger instance with the namespace field "ns" set,
// plus any additional fields given as key-value pairs.
func New(ns string, args ...interface{}) Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	f := fields(args...)
	f["ns"] = ns
	return &logger{base: base, entry: base.WithFields(f)}
}

// NewDiscard returns a logger that discards everything. Useful in tests.
func NewDiscard() Logger {
	l := New("discard")
	l.SetOutput(io.Discard)
	return l
}

type logger struct {
	base  *logrus.Logger
	entry *logrus.Entry
}

func (l *logger) Debug(msg string, args ...interface{}) {
	defer recoverLogErr()
	l.entry.WithFields(fields(args...)).Debug(msg)
}

func (l *logger) Info(msg string, args ...interface{}) {
	defer recoverLogErr()
	l.entry.WithFields(fields(args...)).Info(msg)
}

func (l *logger) Warn(msg string, args ...interface{}) {
	defer recoverLogErr()
	l.entry.WithFields(fields(args...)).Warn(msg)
}

// Error logs an error message. It has a two-argument shortcut form:
//
//	log.Error("Couldn't start server", err)
func (l *logger) Error(msg string, args ...interface{}) {
	defer recoverLogErr()
	var f map[string]interface{}
	if len(args) == 1 {
		f = fields("error", args[0])
	} else {
		f = fields(args...)
	}
	l.entry.WithFields(f).Error(msg)
}

// WithFields returns a new Logger instance with the given fields added
// to all log messages.
func (l *logger) WithFields(args ...interface{}) Logger {
	defer recoverLogErr()
	return &logger{base: l.base, entry: l.entry.WithFields(fields(args...))}
}

// SetOutput sets the output destination of the logger.
func (l *logger) SetOutput(w io.Writer) {
	l.base.SetOutput(w)
}

// recoverLogErr recovers from panics during logging. Logging should never
// crash a program, so this failsafe tries to prevent those crashes.
func recoverLogErr() {
	if r := recover(); r != nil {
		fmt.Println("Recovered from logging panic", r)
	}
}

func fields(args ...interface{}) map[string]interface{} {
	f := make(map[string]interface{}, len(args)/2)
	if len(args) == 1 {
		f["unknown"] = args[0]
		return f
	}
	for i := 0; i < len(args)-1; i += 2 {
		k, ok := args[i].(string)
		if !ok {
			k = fmt.Sprintf("%v", args[i])
		}
		f[k] = args[i+1]
	}
	if len(args)%2 != 0 {
		f["unknown"] = args[len(args)-1]
	}
	return f
}
