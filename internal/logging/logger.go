// Package logging builds the zap loggers shared by all taxistream components.
package logging

import (
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level" env:"LEVEL"`

	// Development enables the human-friendly console encoder
	Development bool `json:"development" yaml:"development" env:"DEVELOPMENT"`
}

var (
	global *zap.SugaredLogger
	gOnce  sync.Once
)

// G returns the process-wide logger, creating a development logger on first use.
func G() *zap.SugaredLogger {
	gOnce.Do(func() {
		if global != nil {
			return
		}
		l, err := zap.NewDevelopment()
		if err != nil {
			panic("failed to create global logger")
		}
		global = l.Sugar()
	})
	return global
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *zap.SugaredLogger) {
	gOnce.Do(func() {})
	global = l
}

// New builds a logger from cfg.
func New(cfg Config) (*zap.SugaredLogger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	l, err := zcfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: failed to build logger: %w", err)
	}
	return l.Sugar(), nil
}

// Named returns a child of l for the given component, falling back to the
// global logger when l is nil.
func Named(l *zap.SugaredLogger, component string) *zap.SugaredLogger {
	if l == nil {
		l = G()
	}
	return l.Named(component)
}

// Nop returns a logger that discards everything.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

func parseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return level, fmt.Errorf("logging: invalid level %q", s)
	}
	return level, nil
}
