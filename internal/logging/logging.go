// Package logging builds the zap logger used across cardsync.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New. An empty File logs to stderr in console format;
// otherwise JSON lines go to a size-rotated file.
type Options struct {
	File       string
	Level      string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New returns a logger and a function that flushes and closes it.
func New(opts Options) (*zap.Logger, func() error, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
	}

	var (
		sink    zapcore.WriteSyncer
		encoder zapcore.Encoder
		closer  io.Closer
	)
	if opts.File == "" {
		sink = zapcore.Lock(os.Stderr)
		encCfg := zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		rotator := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		sink = zapcore.AddSync(rotator)
		closer = rotator
		encoder = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}

	logger := zap.New(zapcore.NewCore(encoder, sink, level), zap.AddCaller())
	cleanup := func() error {
		_ = logger.Sync()
		if closer != nil {
			return closer.Close()
		}
		return nil
	}
	return logger, cleanup, nil
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
