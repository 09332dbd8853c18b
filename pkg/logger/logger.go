package logger

import (
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package logger is a thin facade over zap. Services log either a plain line
// (Info/Warn/Error) or a structured event (InfoJ/WarnJ/ErrorJ) where the
// event name is a stable snake_case identifier and fields carry context such
// as result, latency_ms and trace_id.

var (
	mu  sync.RWMutex
	log = newDefault()
)

func newDefault() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetLevel switches the global minimum level ("debug", "info", "warn", "error").
func SetLevel(level string) {
	var lvl zapcore.Level
	if err := lvl.Set(level); err != nil {
		return
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return
	}
	mu.Lock()
	log = l
	mu.Unlock()
}

// Sync flushes buffered entries; safe to call on shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = log.Sync()
}

func Debug(msg string) { get().Debug(msg) }
func Info(msg string)  { get().Info(msg) }
func Warn(msg string)  { get().Warn(msg) }
func Error(msg string) { get().Error(msg) }

// InfoJ logs a structured event with deterministic field order.
func InfoJ(event string, fields map[string]any) { get().Info(event, toZap(fields)...) }

// WarnJ logs a structured warning event.
func WarnJ(event string, fields map[string]any) { get().Warn(event, toZap(fields)...) }

// ErrorJ logs a structured error event.
func ErrorJ(event string, fields map[string]any) { get().Error(event, toZap(fields)...) }

// DebugJ logs a structured debug event.
func DebugJ(event string, fields map[string]any) { get().Debug(event, toZap(fields)...) }

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
