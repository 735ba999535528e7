// Package logging builds the zerolog logger shared by both commands.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Options configures New.
type Options struct {
	// Level is a zerolog level name ("debug", "info", ...). Unknown or empty
	// values fall back to info.
	Level string

	// Pretty switches to the human-readable console writer.
	Pretty bool

	// Out defaults to os.Stderr.
	Out io.Writer
}

// New returns a logger tagged with the component name.
func New(component string, opt Options) zerolog.Logger {
	out := opt.Out
	if out == nil {
		out = os.Stderr
	}
	if opt.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(ParseLevel(opt.Level)).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel maps a level name to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Banner is the separator line used around stage headers and failure reports.
const Banner = "============================================================"
