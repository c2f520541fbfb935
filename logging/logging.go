// Package logging builds the gateway's process-wide zerolog.Logger.
//
// Grounded on Alfred's logger.New: console writer in development, JSON
// otherwise, with the configured level (info if it does not parse) in
// both cases. Generalized to take a plain (env, logLevel) pair instead
// of *config.Config directly,
// so it has no import-cycle dependency on the config package.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a zerolog.Logger. env == "development" switches to a
// human-readable console writer; any other env emits structured JSON
// to stderr, suitable for log aggregation.
func New(env, logLevel string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if env == "development" {
		out := zerolog.ConsoleWriter{Out: os.Stderr}
		return zerolog.New(out).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}
