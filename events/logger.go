package events

import "github.com/macworp/macworp/logger"

// Logger is an event writer that writes events to a Logger.
type Logger struct {
	log logger.Logger
}

// NewLogger returns a Logger that logs events under the given namespace.
func NewLogger(ns string) *Logger {
	return &Logger{log: logger.New(ns)}
}

// Write writes an event to the logger.
func (l *Logger) Write(ev *Event) error {
	l.log.Info("Project event", "project", ev.ProjectID, "event", ev.Type, "data", ev.Data)
	return nil
}
