package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger for the given level ("debug", "info", "warn",
// "error") and format ("json" or "console"). Unknown values fall back to
// info/json.
func New(level, format string) *zap.Logger {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if format == "console" {
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// NewNop returns a no-op logger, handy as a default in tests.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
