package ptt

import charmlog "github.com/charmbracelet/log"

// charmLogger adapts charmbracelet/log's *Logger onto this package's
// Logger interface so Controller never depends on the logging library
// directly (only on the shape it needs).
type charmLogger struct {
	l *charmlog.Logger
}

// NewCharmLogger wraps an existing charmbracelet/log logger, typically one
// already configured by cmd/agent (prefix, level, formatter) for the rest
// of the process.
func NewCharmLogger(l *charmlog.Logger) Logger {
	if l == nil {
		l = charmlog.Default()
	}
	return &charmLogger{l: l.With("component", "ptt")}
}

func (c *charmLogger) Debug(msg string, args ...interface{}) { c.l.Debug(msg, args...) }
func (c *charmLogger) Info(msg string, args ...interface{})  { c.l.Info(msg, args...) }
func (c *charmLogger) Warn(msg string, args ...interface{})  { c.l.Warn(msg, args...) }
func (c *charmLogger) Error(msg string, args ...interface{}) { c.l.Error(msg, args...) }
