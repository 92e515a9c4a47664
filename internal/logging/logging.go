package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New returns the process logger: JSON on stdout, human readable in dev.
func New(env, service string) zerolog.Logger {
	return newLogger(os.Stdout, env, service)
}

func newLogger(out io.Writer, env, service string) zerolog.Logger {
	if env == "dev" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.Kitchen, NoColor: true}
	}
	return zerolog.New(out).With().Timestamp().Str("service", service).Logger()
}
