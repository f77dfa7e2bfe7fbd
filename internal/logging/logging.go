// Package logging sets up the warehouse's structured logger. All
// components log through a component-scoped *zap.SugaredLogger rather
// than the stdlib log package, so progress and observability fields
// (phase, current, total, file counts) stay machine-parsable.
package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	once sync.Once
	base *zap.Logger
)

// Base returns the process-wide base logger, building it on first use from
// the LOG_LEVEL and LOG_FORMAT environment variables ("json" default,
// "console" for local development).
func Base() *zap.Logger {
	once.Do(func() {
		level := zapcore.InfoLevel
		if err := level.Set(strings.ToLower(strings.TrimSpace(os.Getenv("LOG_LEVEL")))); err != nil {
			level = zapcore.InfoLevel
		}

		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(level)
		if strings.EqualFold(os.Getenv("LOG_FORMAT"), "console") {
			cfg.Encoding = "console"
			cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
		}

		l, err := cfg.Build()
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// For returns a sugared logger scoped to a single component, mirroring the
// teacher's "[component] message" prefix convention as a structured field.
func For(component string) *zap.SugaredLogger {
	return Base().Sugar().With("component", component)
}
