package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger creates a structured zerolog.Logger tagged with the service
// name and env. Non-empty fields are added automatically.
func NewLogger(service, env, level string) zerolog.Logger {
	ctx := zerolog.New(os.Stdout).With().Timestamp()

	if service != "" {
		ctx = ctx.Str("service", service)
	}
	if env != "" {
		ctx = ctx.Str("env", env)
	}

	logger := ctx.Logger()

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	return logger.Level(lvl)
}
