package logger

import (
	"bytes"
	"context"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// TestParseLogLevel verifies mapping from strings to zapcore.Level and handling of unknown values.
func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		"INFO":    zapcore.InfoLevel,
		" warn ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for s, lvl := range cases {
		got, ok := ParseLogLevel(s)
		require.True(t, ok, s)
		require.Equal(t, lvl, got)
	}

	_, ok := ParseLogLevel("unknown")
	require.False(t, ok)
}

// TestContextLogger checks that named context loggers write to their own sink.
func TestContextLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	ctx := ToContext(context.Background(), New(zapcore.DebugLevel, &buf))
	ctx = WithName(ctx, "module")
	ctx = WithKV(ctx, "release", "6.8.0-generic")

	InfoKV(ctx, "Module loaded", "name", "montauk")
	Debugf(ctx, "exit code %d", 0)

	out := buf.String()
	require.Contains(t, out, "INFO")
	require.Contains(t, out, "module")
	require.Contains(t, out, "Module loaded")
	require.Contains(t, out, "6.8.0-generic")
	require.Contains(t, out, "exit code 0")
}

// TestFromContext_FallsBackToGlobal ensures a bare context yields the global logger.
func TestFromContext_FallsBackToGlobal(t *testing.T) {
	t.Parallel()

	require.Same(t, Logger(), FromContext(context.Background()))
}

// TestNew_DefaultsToStderr keeps log lines off stdout, which carries the rendered report.
func TestNew_DefaultsToStderr(t *testing.T) {
	reader, writer, err := os.Pipe()
	require.NoError(t, err)

	stderr := os.Stderr
	os.Stderr = writer

	t.Cleanup(func() { os.Stderr = stderr })

	New(zapcore.InfoLevel, nil).Info("Checking dependencies")
	require.NoError(t, writer.Close())

	out, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Contains(t, string(out), "Checking dependencies")
}
