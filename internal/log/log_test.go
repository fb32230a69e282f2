package log

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func restore(t *testing.T) {
	t.Helper()
	mu.RLock()
	prev := global
	mu.RUnlock()
	t.Cleanup(func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	})
}

func TestSetFallback(t *testing.T) {
	restore(t)
	assert.False(t, Logger(context.Background()).Core().Enabled(zapcore.InfoLevel))

	set(zap.Config{Encoding: "bogus"})
	assert.True(t, Logger(context.Background()).Core().Enabled(zapcore.InfoLevel),
		"an invalid config must not leave logging disabled")
}

func TestEnvLevel(t *testing.T) {
	testfunc := func(env string, expected zapcore.Level) {
		t.Helper()
		t.Setenv("LOGLEVEL", env)
		assert.Equal(t, expected, envLevel(zapcore.InfoLevel))
	}
	testfunc("", zapcore.InfoLevel)
	testfunc("debug", zapcore.DebugLevel)
	testfunc("error", zapcore.ErrorLevel)
	testfunc("loud", zapcore.InfoLevel)
}

func TestWith(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	ctx := WithLogger(context.Background(), zap.New(core))
	ctx = With(ctx, zap.String("run", "abc"))
	Logger(ctx).Info("hello", zap.Int("id", 3))

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "hello", entries[0].Message)
	assert.Equal(t, map[string]interface{}{"run": "abc", "id": int64(3)}, entries[0].ContextMap())
}
