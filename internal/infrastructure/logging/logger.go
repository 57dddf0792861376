package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger with the runtime's naming conventions.
type Logger struct {
	*zap.Logger
}

// Config selects the log level and output. Zero values mean info level
// (debug in development) written to stdout.
type Config struct {
	Level       string
	Development bool
	OutputPaths []string
}

// New builds a logger from cfg. Production writes JSON without stack
// traces; development writes colored console lines.
func New(cfg Config) (*Logger, error) {
	zc := production()
	if cfg.Development {
		zc = development()
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	if len(cfg.OutputPaths) > 0 {
		zc.OutputPaths = cfg.OutputPaths
	}

	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: logger}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// Wrap adapts an existing zap logger, e.g. one from zaptest.
func Wrap(l *zap.Logger) *Logger {
	if l == nil {
		return NewNop()
	}
	return &Logger{Logger: l}
}

// Component returns a child logger for a runtime component.
func (l *Logger) Component(name string) *zap.Logger {
	return l.Named(name)
}

// ForApp returns the logger an app's output and messages are written under.
func (l *Logger) ForApp(app string) *zap.Logger {
	return l.Named("app." + app).With(zap.String("app", app))
}

func production() zap.Config {
	zc := zap.NewProductionConfig()
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	zc.DisableStacktrace = true
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.MessageKey = "message"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc
}

func development() zap.Config {
	zc := zap.NewDevelopmentConfig()
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return zc
}
