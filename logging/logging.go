package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"projects/config"
)

// New builds a logger writing to stdout and, if cfg.File is set, to that
// file as well. The file is truncated.
func New(cfg config.LogConfig) (*zap.Logger, func(), error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	case "console", "":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeCaller = nil
		ec.CallerKey = ""
		enc = zapcore.NewConsoleEncoder(ec)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	closeFn := func() {}
	if cfg.File != "" {
		f, err := os.Create(cfg.File)
		if err != nil {
			return nil, nil, fmt.Errorf("log file: %w", err)
		}
		sinks = append(sinks, zapcore.Lock(f))
		closeFn = func() { f.Close() }
	}

	logger := zap.New(zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), level))
	return logger, func() {
		_ = logger.Sync()
		closeFn()
	}, nil
}
