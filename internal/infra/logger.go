package infra

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger constructs a zerolog.Logger for the service. Development gets
// a console writer at debug level; everything else emits JSON at info.
func NewLogger(appEnv string) zerolog.Logger {
	level := zerolog.InfoLevel
	if appEnv == "development" {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", "dreamsense").
		Logger()

	if appEnv == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger
}

// Logger aliases zerolog.Logger so packages can accept a logger without
// importing the third-party module directly.
type Logger = zerolog.Logger

// TokenPrefix shortens a secret-ish value for log lines.
func TokenPrefix(token string) string {
	const keep = 8
	if len(token) <= keep {
		return token
	}
	return token[:keep] + "…"
}
