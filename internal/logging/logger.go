// Package logging provides the global structured logger.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger zerolog.Logger
var initialized bool

// Init configures the global logger. Level is one of debug, info, warn,
// error; format is "console" or "json", with MLSTACK_LOG_FORMAT honored
// when format is empty.
func Init(level string, format string) {
	var lvl zerolog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "warn", "warning":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	default:
		lvl = zerolog.InfoLevel
	}

	if format == "" {
		format = os.Getenv("MLSTACK_LOG_FORMAT")
	}
	var out io.Writer = os.Stderr
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	logger = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	initialized = true
}

// Logger returns the global logger instance.
func Logger() zerolog.Logger {
	if !initialized {
		Init("info", "")
	}
	return logger
}

// With returns a child logger tagged with a component name.
func With(component string) zerolog.Logger {
	return Logger().With().Str("component", component).Logger()
}

// Debug logs a debug message with alternating key/value fields.
func Debug(msg string, kv ...any) {
	l := Logger()
	log(l.Debug(), msg, kv)
}

// Info logs an info message with alternating key/value fields.
func Info(msg string, kv ...any) {
	l := Logger()
	log(l.Info(), msg, kv)
}

// Warn logs a warning message with alternating key/value fields.
func Warn(msg string, kv ...any) {
	l := Logger()
	log(l.Warn(), msg, kv)
}

// Error logs an error message with alternating key/value fields.
func Error(msg string, kv ...any) {
	l := Logger()
	log(l.Error(), msg, kv)
}

func log(ev *zerolog.Event, msg string, kv []any) {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}
