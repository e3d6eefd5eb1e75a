// Package logx builds the zap loggers used by relay binaries.
package logx

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects level, encoding and destination.
type Config struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	// Path is a directory for info.log and error.log. Empty logs to stderr.
	Path string `yaml:"path"`
}

// New builds a logger from cfg. The returned func syncs and closes any
// files the logger writes to.
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		lvl, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = lvl
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "console":
		encoder = zapcore.NewConsoleEncoder(encCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encCfg)
	default:
		return nil, nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	if cfg.Path == "" {
		core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
		lg := zap.New(core, zap.AddCaller())
		return lg, func() { _ = lg.Sync() }, nil
	}

	if err := os.MkdirAll(cfg.Path, 0744); err != nil {
		return nil, nil, fmt.Errorf("failed to create log dir %s: %w", cfg.Path, err)
	}

	infoFile, err := openLogFile(filepath.Join(cfg.Path, "info.log"))
	if err != nil {
		return nil, nil, err
	}
	errorFile, err := openLogFile(filepath.Join(cfg.Path, "error.log"))
	if err != nil {
		_ = infoFile.Close()
		return nil, nil, err
	}

	infoLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level && l < zapcore.ErrorLevel })
	errLv := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level && l >= zapcore.ErrorLevel })

	tee := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.AddSync(infoFile), infoLv),
		zapcore.NewCore(encoder, zapcore.AddSync(errorFile), errLv),
	)

	lg := zap.New(tee, zap.AddCaller())
	closeFn := func() {
		_ = lg.Sync()
		_ = infoFile.Close()
		_ = errorFile.Close()
	}
	return lg, closeFn, nil
}

func openLogFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	return f, nil
}
