// File: config/logging.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Structured logging setup. The runtime logs through logiface with the
// stumpy JSON backend; hot paths never log, lifecycle events do.

package config

import (
	"fmt"
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// Logger is the concrete logger type used across the runtime.
type Logger = logiface.Logger[*stumpy.Event]

// NewLogger builds a JSON logger writing to w at the named level.
func NewLogger(w io.Writer, level string) *Logger {
	return stumpy.L.New(
		stumpy.L.WithStumpy(),
		stumpy.L.WithWriter(jsonLineWriter(w)),
		stumpy.L.WithLevel(parseLevel(level)),
	)
}

// Logger returns the logger described by the configuration.
func (c *Config) Logger() *Logger {
	return NewLogger(c.LogWriter, c.LogLevel)
}

// jsonLineWriter terminates each stumpy event buffer and appends a newline.
// Event.Bytes carries the serialized object without the closing brace.
func jsonLineWriter(w io.Writer) logiface.Writer[*stumpy.Event] {
	return logiface.WriterFunc[*stumpy.Event](func(e *stumpy.Event) error {
		_, err := fmt.Fprintf(w, "%s}\n", e.Bytes())
		return err
	})
}

func parseLevel(level string) logiface.Level {
	switch level {
	case "debug":
		return logiface.LevelDebug
	case "", "info":
		return logiface.LevelInformational
	case "warning", "warn":
		return logiface.LevelWarning
	case "err", "error":
		return logiface.LevelError
	case "off":
		return logiface.LevelDisabled
	default:
		return logiface.LevelInformational
	}
}
