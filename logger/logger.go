package logger

import (
	"os"

	"github.com/nodequota/ratelimit/config"
	"github.com/rs/zerolog"
)

// New returns a configured zerolog.Logger tagged with the node's identity
// so log lines from a multi-node cluster can be told apart.
func New(cfg *config.Config) zerolog.Logger {
	var out zerolog.ConsoleWriter
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	} else {
		out = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true}
	}

	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	if cfg.IsDevelopment() && cfg.LogLevel == "" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	return zerolog.New(out).With().
		Timestamp().
		Str("node_id", cfg.NodeID).
		Logger()
}
