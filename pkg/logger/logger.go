// Package logger is a thin package-level facade over zap. Call sites keep
// the printf-style Debug/Info/Warn/Error shape; Init wires the configured
// level and optional file sink underneath.
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu     sync.RWMutex
	sugar  = zap.NewNop().Sugar()
	active *zap.Logger
)

// Init builds the process logger. logFile may be empty for stderr-only
// output.
func Init(level, logFile string) error {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	cfg.OutputPaths = []string{"stderr"}
	if logFile != "" {
		cfg.OutputPaths = append(cfg.OutputPaths, logFile)
	}

	built, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}

	mu.Lock()
	defer mu.Unlock()
	active = built
	sugar = built.Sugar()
	return nil
}

// Set replaces the process logger, used by tests to capture output.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	active = l
	sugar = l.Sugar()
}

func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	sugar.Debugf(format, args...)
}

func Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	sugar.Infof(format, args...)
}

func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	sugar.Warnf(format, args...)
}

func Error(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	sugar.Errorf(format, args...)
}

// Fatal logs and exits.
func Fatal(format string, args ...any) {
	mu.RLock()
	sugar.Errorf(format, args...)
	mu.RUnlock()
	_ = Sync()
	os.Exit(1)
}

// Sync flushes any buffered output.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	if active == nil {
		return nil
	}
	return active.Sync()
}
