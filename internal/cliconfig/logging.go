package cliconfig

import (
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/NazgoooAtanasov/upy/pkg/log"
)

// Logger returns a console logger on stderr at the given level.
// An unknown level falls back to info.
func Logger(level string) zerolog.Logger {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}
