// Package logging sets up the process-wide zerolog logger.
package logging

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New configures a zerolog.Logger per level/format, matching the
// aggregator's LOG_LEVEL/LOG_FORMAT settings.
func New(level, format string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	parsedLevel, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		parsedLevel = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter
	var output zerolog.Logger
	if strings.ToLower(format) == "text" {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
		output = zerolog.New(writer)
	} else {
		output = zerolog.New(os.Stdout)
	}

	return output.Level(parsedLevel).With().Timestamp().Logger()
}
