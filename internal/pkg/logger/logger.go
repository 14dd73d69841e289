// Package logger provides structured JSON key/value logging. Credentials
// are always masked; recipient addresses are masked unless PII redaction
// is switched off.
package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level orders entries; lower levels are dropped below the threshold.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// ParseLevel maps "debug", "info", "warn" and "error" to a Level.
// Anything else is INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return DEBUG
	case "warn", "warning":
		return WARN
	case "error":
		return ERROR
	}
	return INFO
}

// Logger writes one JSON object per line.
type Logger struct {
	mu        sync.Mutex
	level     Level
	redactPII bool
	out       io.Writer
}

// Component is a logger bound to a fixed "component" field.
type Component struct {
	name string
	l    *Logger
}

var defaultLogger = &Logger{level: INFO, redactPII: true, out: os.Stderr}

// SetLevel sets the threshold of the default logger.
func SetLevel(l Level) {
	defaultLogger.mu.Lock()
	defaultLogger.level = l
	defaultLogger.mu.Unlock()
}

// SetRedactPII toggles e-mail masking in field values.
func SetRedactPII(r bool) {
	defaultLogger.mu.Lock()
	defaultLogger.redactPII = r
	defaultLogger.mu.Unlock()
}

// SetOutput redirects the default logger, mostly for tests.
func SetOutput(w io.Writer) {
	defaultLogger.mu.Lock()
	defaultLogger.out = w
	defaultLogger.mu.Unlock()
}

// Debug logs through the default logger.
func Debug(msg string, fields ...any) { defaultLogger.log(DEBUG, msg, fields...) }

// Info logs through the default logger.
func Info(msg string, fields ...any) { defaultLogger.log(INFO, msg, fields...) }

// Warn logs through the default logger.
func Warn(msg string, fields ...any) { defaultLogger.log(WARN, msg, fields...) }

// Error logs through the default logger.
func Error(msg string, fields ...any) { defaultLogger.log(ERROR, msg, fields...) }

// For returns a logger that tags every entry with component=name.
func For(name string) Component { return Component{name: name, l: defaultLogger} }

func (c Component) Debug(msg string, fields ...any) { c.emit(DEBUG, msg, fields) }
func (c Component) Info(msg string, fields ...any)  { c.emit(INFO, msg, fields) }
func (c Component) Warn(msg string, fields ...any)  { c.emit(WARN, msg, fields) }
func (c Component) Error(msg string, fields ...any) { c.emit(ERROR, msg, fields) }

func (c Component) emit(level Level, msg string, fields []any) {
	c.l.log(level, msg, append([]any{"component", c.name}, fields...)...)
}

func (l *Logger) log(level Level, msg string, fields ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level < l.level {
		return
	}

	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}

	for i := 0; i < len(fields)-1; i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := redactSecrets(key, fmt.Sprintf("%v", fields[i+1]))
		if l.redactPII {
			val = redactPIIValue(key, val)
		}
		entry[key] = val
	}

	data, _ := json.Marshal(entry)
	fmt.Fprintln(l.out, string(data))
}
