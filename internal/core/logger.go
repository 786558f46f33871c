// Package core implements the core functionality for scamshield that is shared across all components.
package core

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Init initializes zap's global logger
// After calling this, we use zap.L() directly.
func Init(pretty bool) error {
	var config zap.Config

	if pretty {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	logger, err := config.Build()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	zap.ReplaceGlobals(logger)
	return nil
}

// LogDeferredError logs an error from a deferred cleanup call (e.g. Close)
// instead of silently discarding it.
func LogDeferredError(f func() error) {
	if err := f(); err != nil {
		zap.L().Debug("Deferred cleanup returned error", zap.Error(err))
	}
}

// LogPanicRecovery logs a recovered panic with the scope it was recovered in.
func LogPanicRecovery(scope string, r any) {
	zap.L().Error("Recovered from panic",
		zap.String("scope", scope),
		zap.Any("panic", r))
}

// LogProxyRequest logs a proxied analyzer request using zap's global logger
func LogProxyRequest(service string, path string, duration float64, err error) {
	fields := []zap.Field{
		zap.String("service", service),
		zap.String("path", path),
		zap.Float64("duration_seconds", duration),
		zap.Bool("success", err == nil),
	}

	if err != nil {
		fields = append(fields, zap.Error(err))
		zap.L().Error("Analyzer request failed", fields...)
		return
	}

	zap.L().Info("Analyzer request completed", fields...)
}
