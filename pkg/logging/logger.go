package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/doppelganger/personaprep/pkg/config"
)

// New builds a logger from the logging configuration. The logger is owned by
// the caller and passed down to every component of a run.
func New(cfg *config.LoggingConfig) (*zap.Logger, error) {
	return build(cfg)
}

func build(cfg *config.LoggingConfig, opts ...zap.Option) (*zap.Logger, error) {
	var zapConfig zap.Config

	level := ParseLevel(cfg.Level)

	if cfg.Format == "text" {
		// Development config for text format
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		zapConfig.EncoderConfig.TimeKey = "timestamp"
		zapConfig.EncoderConfig.MessageKey = "message"
		// progress lines arrive per batch; sampling would drop them
		zapConfig.Sampling = nil
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)

	opts = append(opts,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return zapConfig.Build(opts...)
}

// ParseLevel maps INFO/DEBUG/WARNING style names onto zap levels, defaulting to info
func ParseLevel(name string) zapcore.Level {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "warning" {
		name = "warn"
	}
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

// WithRun adds the run identifier to logger
func WithRun(logger *zap.Logger, runID string) *zap.Logger {
	return logger.With(zap.String("run_id", runID))
}

// WithComponent adds component name to logger
func WithComponent(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return logger.With(zap.String("component", component))
}
