package log

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/levenlabs/go-llog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextLogger(t *testing.T) {
	ctx := context.Background()

	// Test Ctx without a logger in the context
	l1 := Ctx(ctx)
	require.NotNil(t, l1, "Ctx returned nil instead of default logger")
	assert.Equal(t, defaultLogger, l1, "Ctx should return defaultLogger")

	// Create a new logger to test With
	customLogger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	require.NotEqual(t, defaultLogger, customLogger, "Failed to create a distinct custom logger for testing")

	// Test With and Ctx with a logger in the context
	ctxWithLogger := With(ctx, customLogger)
	l2 := Ctx(ctxWithLogger)
	require.NotNil(t, l2, "Ctx returned nil, expected custom logger")
	assert.Equal(t, customLogger, l2, "Ctx should return customLogger")
}

func TestLevelFromLLog(t *testing.T) {
	tests := []struct {
		in   llog.Level
		want slog.Level
	}{
		{llog.DebugLevel, slog.LevelDebug},
		{llog.InfoLevel, slog.LevelInfo},
		{llog.WarnLevel, slog.LevelWarn},
		{llog.ErrorLevel, slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in.String(), func(t *testing.T) {
			got, err := LevelFromLLog(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetDefaultLogLevel(t *testing.T) {
	t.Cleanup(func() { SetDefaultLogLevel(slog.LevelInfo) })

	SetDefaultLogLevel(slog.LevelError)
	assert.False(t, Ctx(context.Background()).Enabled(context.Background(), slog.LevelWarn))
	assert.True(t, Ctx(context.Background()).Enabled(context.Background(), slog.LevelError))
}

func TestOutput(t *testing.T) {
	assert.Equal(t, os.Stderr, defaultOutput)
	t.Cleanup(func() { SetOutput(os.Stderr) })

	var buf bytes.Buffer
	SetOutput(&buf)
	Ctx(context.Background()).Warn("failed to fetch sample", slog.String("source", "gateway"))
	assert.Contains(t, buf.String(), `"msg":"failed to fetch sample"`)
	assert.Contains(t, buf.String(), `"source":"gateway"`)
}
