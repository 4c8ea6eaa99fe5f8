// Package observability builds the process logger.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/DoyleJ11/duet-canvas/internal/config"
)

const ServiceName = "duet-canvas"

// NewLogger builds the root logger, named after the service and carrying a
// "service" field. Components derive children with Named ("ws", "inpaint").
// The json format samples repeated entries; per-stroke debug lines are noisy.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}
	enc, err := encoderConfig(cfg.Format)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.Config{
		Level:            level,
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    enc,
		OutputPaths:      []string{"stderr"},
		ErrorOutputPaths: []string{"stderr"},
		InitialFields:    map[string]any{"service": ServiceName},
	}
	if cfg.Format == "json" {
		zapCfg.Sampling = &zap.SamplingConfig{Initial: 100, Thereafter: 100}
	}

	logger, err := zapCfg.Build(zap.AddStacktrace(zapcore.ErrorLevel))
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger.Named(ServiceName), nil
}

func encoderConfig(format string) (zapcore.EncoderConfig, error) {
	switch format {
	case "json":
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		return enc, nil
	case "console":
		enc := zap.NewDevelopmentEncoderConfig()
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		return enc, nil
	default:
		return zapcore.EncoderConfig{}, fmt.Errorf("unknown log format %q", format)
	}
}
