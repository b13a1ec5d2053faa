// Package obs builds the process-wide structured logger. Every service
// constructor takes a *zap.Logger field the way the teacher threads a
// *persistence.JSONStore through its service constructors.
package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // console, json
}

// NewLogger builds a *zap.Logger from cfg, defaulting to an info-level
// console logger when cfg is the zero value.
func NewLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" || cfg.Format == "" {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	return zcfg.Build()
}

// Noop returns a logger that discards everything, for tests and for callers
// that didn't configure logging explicitly.
func Noop() *zap.Logger {
	return zap.NewNop()
}
