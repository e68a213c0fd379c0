package obs

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the logger encoding and level.
type LogConfig struct {
	Level   string
	Pretty  bool
	Service string
	Env     string
}

// NewLogger builds a zap logger tagged with service identity fields.
// Unknown levels fall back to info.
func NewLogger(c LogConfig) (*zap.Logger, error) {
	var cfg zap.Config
	if c.Pretty {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	level := new(zapcore.Level)
	if err := level.Set(c.Level); err != nil {
		*level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(*level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build(
		zap.Fields(
			zap.String("service", c.Service),
			zap.String("env", c.Env),
		),
	)
}
