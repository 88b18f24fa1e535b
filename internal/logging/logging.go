// Package logging builds the zerolog loggers the rest of the module hangs
// component fields on.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Console switches to human-readable output instead of JSON.
	Console bool
	// Out overrides the destination, mainly for tests. Nil means stderr.
	Out io.Writer
}

// New builds the root logger. Unknown levels fall back to info rather than
// failing startup.
func New(cfg Config) zerolog.Logger {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("app", "likeness").
		Logger()
}

// Component tags a child logger with its owning component.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}

// Nop returns a disabled logger for tests and optional wiring.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
