package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a zap logger. Production emits JSON with ISO8601 timestamps,
// everything else gets the colored development console encoder.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg.Build(zap.Fields(zap.String("service", "sweeper")))
}

// Must panics if the logger cannot be initialized. Useful in main().
func Must(env string) *zap.Logger {
	log, err := New(env)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	return log
}
