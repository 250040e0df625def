package logger

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level mirrors the severity order used across the codebase.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var (
	mu      sync.RWMutex
	base    *zap.Logger
	current = INFO
)

func init() {
	base = newZap(current)
}

func newZap(level Level) *zap.Logger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		zapLevel(level),
	)
	return zap.New(core)
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case DEBUG:
		return zapcore.DebugLevel
	case WARN:
		return zapcore.WarnLevel
	case ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// SetLevel changes the global minimum level.
func SetLevel(level Level) {
	mu.Lock()
	defer mu.Unlock()
	current = level
	base = newZap(level)
}

func fieldsOf(component string, fields map[string]interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(fields)+1)
	out = append(out, zap.String("component", component))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}

// DebugCF logs a debug message for a component with structured fields.
func DebugCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Debug(msg, fieldsOf(component, fields)...)
}

// InfoCF logs an info message for a component with structured fields.
func InfoCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Info(msg, fieldsOf(component, fields)...)
}

// WarnCF logs a warning for a component with structured fields.
func WarnCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Warn(msg, fieldsOf(component, fields)...)
}

// ErrorCF logs an error for a component with structured fields.
func ErrorCF(component, msg string, fields map[string]interface{}) {
	mu.RLock()
	l := base
	mu.RUnlock()
	l.Error(msg, fieldsOf(component, fields)...)
}
