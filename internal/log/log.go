// Package log holds the process wide zap logger and carries it through
// contexts.
package log

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type ctxKey struct{}

var (
	mu     sync.RWMutex
	global = zap.NewNop()
)

// Structured switches the default logger to json output, at the level given by
// the LOGLEVEL environment variable (info if unset or invalid)
func Structured() {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(envLevel(zapcore.InfoLevel))
	set(cfg)
}

// Development switches the default logger to human readable console output at
// debug level
func Development() {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(envLevel(zapcore.DebugLevel))
	set(cfg)
}

func set(cfg zap.Config) {
	l, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v, falling back to example logger\n", err)
		l = zap.NewExample()
	}
	mu.Lock()
	global = l
	mu.Unlock()
}

func envLevel(def zapcore.Level) zapcore.Level {
	lvl := def
	if s := os.Getenv("LOGLEVEL"); s != "" {
		if err := lvl.Set(s); err != nil {
			return def
		}
	}
	return lvl
}

// Logger returns the logger attached to ctx, or the default one
func Logger(ctx context.Context) *zap.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
			return l
		}
	}
	mu.RLock()
	defer mu.RUnlock()
	return global
}

// WithLogger returns a copy of ctx carrying l
func WithLogger(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// With returns a copy of ctx whose logger has the extra fields
func With(ctx context.Context, fields ...zap.Field) context.Context {
	return WithLogger(ctx, Logger(ctx).With(fields...))
}

// Sync flushes the default logger
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = global.Sync()
}
