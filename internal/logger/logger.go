// Package logger builds the service's zap logger.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level  string
	Format string
}

// New returns a logger and the level it writes at. The level can be changed
// later with SetLevel without rebuilding the logger.
func New(cfg Config) (*zap.Logger, zap.AtomicLevel, error) {
	level := zap.NewAtomicLevel()
	if err := SetLevel(level, cfg.Level); err != nil {
		return nil, level, err
	}

	var zcfg zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", "json":
		zcfg = zap.NewProductionConfig()
	case "console":
		zcfg = zap.NewDevelopmentConfig()
	default:
		return nil, level, fmt.Errorf("invalid log format: %s", cfg.Format)
	}
	zcfg.Level = level
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := zcfg.Build()
	if err != nil {
		return nil, level, fmt.Errorf("building logger: %w", err)
	}
	return log, level, nil
}

func SetLevel(level zap.AtomicLevel, name string) error {
	if name == "" {
		name = "info"
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		return fmt.Errorf("invalid log level: %s", name)
	}
	level.SetLevel(l)
	return nil
}
