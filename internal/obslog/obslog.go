// Package obslog configures the process-wide structured logger.
package obslog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init wires the global zerolog logger: JSON to stdout, optionally tee'd to a
// file sink, level from levelStr. Safe to call once at process startup.
func Init(levelStr, logPath string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stdout
	if logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			out = io.MultiWriter(os.Stdout, f)
		}
	}

	lvl, err := zerolog.ParseLevel(levelStr)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger().Level(lvl)
}

// For returns a child logger tagged with a component field so log lines can
// be filtered by subsystem (Journal, Scheduler, Cognition, Toolbox, ...)
// without grepping message text.
func For(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
