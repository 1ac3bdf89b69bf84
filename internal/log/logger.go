package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New builds a zerolog logger with the given level string (debug, info, warn, error).
// Output is human-readable console text; see NewJSON for machine-readable logs.
func New(level string) *zerolog.Logger {
	return build(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}, level)
}

// NewJSON builds a logger writing one JSON object per line to w.
func NewJSON(w io.Writer, level string) *zerolog.Logger {
	return build(w, level)
}

// ForFormat picks the writer by format: "json" logs JSON lines to stdout,
// anything else falls back to New.
func ForFormat(format, level string) *zerolog.Logger {
	if strings.EqualFold(format, "json") {
		return NewJSON(os.Stdout, level)
	}
	return New(level)
}

// Nop returns a logger that discards everything.
func Nop() *zerolog.Logger {
	logger := zerolog.Nop()
	return &logger
}

func build(w io.Writer, level string) *zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(w).Level(parseLevel(level)).With().Timestamp().Logger()
	return &logger
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}
