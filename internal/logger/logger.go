package logger

import (
	"fmt"

	"pos-ledger/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Development mode switches to a console
// encoder at debug level regardless of the configured values.
func New(cfg *config.Config) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.IsDevelopment() {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
		level, err := zapcore.ParseLevel(cfg.Logger.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid LOGGER_LEVEL %q: %w", cfg.Logger.Level, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
		if cfg.Logger.Encoding != "" {
			zc.Encoding = cfg.Logger.Encoding
		}
	}
	zc.DisableCaller = cfg.Logger.DisableCaller
	zc.DisableStacktrace = cfg.Logger.DisableStacktrace
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	log, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log.With(zap.String("service", "pos-ledger")), nil
}
