package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init routes the global logger to a console writer on stderr and applies
// level. Unknown levels fall back to info; the returned bool reports whether
// level was understood.
func Init(level string) bool {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return level == ""
	}
	zerolog.SetGlobalLevel(lvl)
	return true
}

// For returns a child of the global logger tagged with module.
func For(module string) zerolog.Logger {
	return log.With().Str("module", module).Logger()
}
