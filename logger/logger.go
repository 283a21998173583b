package logger

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/ar-io/wayfinder-router/config"
)

// New returns a configured zerolog.Logger. Development environments get a
// human-readable console writer; everywhere else logs as JSON lines, the
// shape log aggregation expects.
func New(cfg *config.Config) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out zerolog.Logger
	if cfg.IsDevelopment() {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	} else {
		out = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return out.With().Str("service", "wayfinder-router").Logger()
}
