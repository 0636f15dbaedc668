// Package logger builds the application's zap logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config describes the logger.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
}

// New creates a zap.Logger writing to stdout.
func New(cfg Config) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		lvl = zapcore.DebugLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		lvl = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "text" {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	zc.OutputPaths = []string{"stdout"}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}
