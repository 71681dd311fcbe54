package config

import (
	"github.com/samber/oops"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a JSON zap logger wrapped by otelzap, so logs written
// through Ctx(ctx) carry the active trace and span ids.
func NewLogger(serviceName, level string) (*otelzap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.TimeKey = "timestamp"

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, oops.Code("CONFIG_INVALID").With("log_level", level).Wrap(err)
		}
		config.Level = zap.NewAtomicLevelAt(parsed)
	}

	zapLogger, err := config.Build(zap.Fields(zap.String("service", serviceName)))
	if err != nil {
		return nil, oops.Code("LOGGER_BUILD_FAILED").Wrap(err)
	}

	return otelzap.New(zapLogger, otelzap.WithMinLevel(config.Level.Level())), nil
}

// NewNopLogger is used by tests and by commands that run before logging is configured.
func NewNopLogger() *otelzap.Logger {
	return otelzap.New(zap.NewNop())
}
