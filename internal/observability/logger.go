package observability

import (
	"github.com/danmuck/rpcmux/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures process logging and tags the global logger with app.
func InitLogger(app string) zerolog.Logger {
	logging.ConfigureRuntime()
	log.Logger = log.Logger.With().Str("app", app).Logger()
	return log.Logger
}

// EndpointLogger derives a per-endpoint logger from the global one.
func EndpointLogger(endpoint, role string) zerolog.Logger {
	return log.Logger.With().Str("endpoint", endpoint).Str("role", role).Logger()
}
