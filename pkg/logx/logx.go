// Package logx provides the structured key-value logger used across ruckd.
// Call sites pass alternating key/value pairs, or a single
// map[string]interface{}, after the message.
package logx

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger wraps a leveled logrus entry tagged with a component name.
type Logger struct {
	log       *logrus.Logger
	component string
}

// NewLogger creates a logger at the given level ("trace"|"debug"|"info"|
// "warn"|"error") for the named component.
func NewLogger(level, component string) *Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(parseLevel(level))

	return &Logger{log: log, component: component}
}

// SetLevel changes the log level at runtime.
func (l *Logger) SetLevel(level string) {
	l.log.SetLevel(parseLevel(level))
}

// SetPlainOutput switches to human-readable text on stderr, for foreground
// runs.
func (l *Logger) SetPlainOutput() {
	l.log.SetOutput(os.Stderr)
	l.log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

// WithComponent returns a logger sharing the same sink but tagged with a
// different component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{log: l.log, component: component}
}

func (l *Logger) Trace(msg string, kv ...interface{}) { l.entry(kv).Trace(msg) }
func (l *Logger) Debug(msg string, kv ...interface{}) { l.entry(kv).Debug(msg) }
func (l *Logger) Info(msg string, kv ...interface{})  { l.entry(kv).Info(msg) }
func (l *Logger) Warn(msg string, kv ...interface{})  { l.entry(kv).Warn(msg) }
func (l *Logger) Error(msg string, kv ...interface{}) { l.entry(kv).Error(msg) }

// LogVerbose emits an event with structured fields at trace level.
func (l *Logger) LogVerbose(event string, fields map[string]interface{}) {
	l.entry(nil).WithFields(logrus.Fields(fields)).Trace(event)
}

// LogDebugVerbose emits an event with structured fields at debug level.
func (l *Logger) LogDebugVerbose(event string, fields map[string]interface{}) {
	l.entry(nil).WithFields(logrus.Fields(fields)).Debug(event)
}

// LogStateChange records a lifecycle state transition.
func (l *Logger) LogStateChange(from, to, reason string) {
	l.entry(nil).WithFields(logrus.Fields{
		"from":   from,
		"to":     to,
		"reason": reason,
	}).Info("state_change")
}

func (l *Logger) entry(kv []interface{}) *logrus.Entry {
	fields := logrus.Fields{}
	if l.component != "" {
		fields["component"] = l.component
	}

	// A single map argument is accepted as the full field set.
	if len(kv) == 1 {
		if m, ok := kv[0].(map[string]interface{}); ok {
			for k, v := range m {
				fields[k] = v
			}
			return l.log.WithFields(fields)
		}
	}

	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprintf("arg%d", i)
		}
		fields[key] = kv[i+1]
	}
	if len(kv)%2 != 0 {
		fields["extra"] = kv[len(kv)-1]
	}

	return l.log.WithFields(fields)
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
