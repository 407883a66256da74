package log2

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Configure sets up the global zerolog logger. Logs always go to stderr,
// stdout is reserved for the request diagnostic line.
func Configure() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(ParseLevel(os.Getenv("LOG_LEVEL")))
}

// ParseLevel maps a LOG_LEVEL value to a zerolog level, falling back to info.
func ParseLevel(s string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil || s == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...interface{}) {
	log.Debug().Msgf(format, args...)
}
