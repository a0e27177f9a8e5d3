// Package logging builds the service logger and adapts it to the logger
// interfaces of third-party libraries.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a timestamped JSON logger writing to w at the given level.
// An empty or unknown level falls back to info.
func New(w io.Writer, level string) zerolog.Logger {
	if w == nil {
		w = os.Stdout
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// Cron adapts a zerolog logger to robfig/cron's Logger interface.
type Cron struct {
	L zerolog.Logger
}

func (c Cron) Info(msg string, keysAndValues ...interface{}) {
	c.L.Debug().Fields(keysAndValues).Msg(msg)
}

func (c Cron) Error(err error, msg string, keysAndValues ...interface{}) {
	c.L.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
