package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

func init() {
	zerolog.TimestampFieldName = "timestamp"
}

// New builds the process logger for the given environment. level overrides
// the per-environment default when non-empty.
func New(env, level string) (zerolog.Logger, error) {
	return newWithWriter(env, level, os.Stdout)
}

func newWithWriter(env, level string, out io.Writer) (zerolog.Logger, error) {
	w := out
	lvl := zerolog.InfoLevel

	switch env {
	case EnvProd:
		lvl = zerolog.InfoLevel
	case EnvDev:
		lvl = zerolog.DebugLevel
	case EnvLocal:
		lvl = zerolog.DebugLevel
		cw := zerolog.NewConsoleWriter()
		cw.TimeFormat = time.DateTime
		cw.Out = out
		w = cw
	default:
		return zerolog.Nop(), fmt.Errorf("unknown env: %s", env)
	}

	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("parse log level %q: %w", level, err)
		}
		lvl = parsed
	}

	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Caller().
		Int("pid", os.Getpid()).
		Logger(), nil
}

// Service returns a child logger tagged with the service name. Packages
// below it add their own "component" field.
func Service(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("service", name).Logger()
}
