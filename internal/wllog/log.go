// Package wllog configures the zerolog logger shared by the engine, its
// collaborators, and the cmd/ entry points.
package wllog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Options controls logger construction.
type Options struct {
	// Level is one of zerolog's level strings ("debug", "info", "warn",
	// "error"). Empty defaults to "info".
	Level string

	// Pretty enables zerolog's human-readable console writer, for
	// interactive cmd/ubictl and cmd/ubishell use. Disabled (plain JSON
	// lines) is the right choice when output is captured or piped.
	Pretty bool

	Output io.Writer
}

// New builds a configured logger. The zero Options value produces an
// info-level logger writing plain JSON lines to stderr.
func New(opts Options) zerolog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	if opts.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	level, err := zerolog.ParseLevel(opts.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
