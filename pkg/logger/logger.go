package logger

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Package logger provides component-tagged logging on top of zerolog.
// Every call carries a component name ("wa", "webhook", "api", ...) so log
// lines from concurrent subsystems stay attributable.

var (
	mu  sync.RWMutex
	log zerolog.Logger = newLogger(os.Stderr, false)
)

func newLogger(out *os.File, json bool) zerolog.Logger {
	if json {
		return zerolog.New(out).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	return zerolog.New(writer).With().Timestamp().Logger()
}

// Setup configures the global logger. level is one of
// "debug", "info", "warn", "error"; json switches to machine-readable output.
func Setup(level string, json bool) {
	mu.Lock()
	defer mu.Unlock()

	log = newLogger(os.Stderr, json)

	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

func event(e *zerolog.Event, component, msg string, fields map[string]interface{}) {
	e = e.Str("component", component)
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	e.Msg(msg)
}

func DebugC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Debug(), component, msg, nil)
}

func DebugCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Debug(), component, msg, fields)
}

func InfoC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Info(), component, msg, nil)
}

func InfoCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Info(), component, msg, fields)
}

func WarnC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Warn(), component, msg, nil)
}

func WarnCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Warn(), component, msg, fields)
}

func ErrorC(component, msg string) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Error(), component, msg, nil)
}

func ErrorCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	event(log.Error(), component, msg, fields)
}
