package logging

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T, level LogLevel) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger, err := NewZapLogger(LogConfig{Level: level, Output: buf})
	require.NoError(t, err)
	return logger, buf
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", DebugLevel},
		{"INFO", InfoLevel},
		{"warn", WarnLevel},
		{"WARNING", WarnLevel},
		{"Error", ErrorLevel},
		{"garbage", InfoLevel},
		{"", InfoLevel},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, ParseLevel(tt.input), "input %q", tt.input)
	}
}

func TestZapAdapter_Levels(t *testing.T) {
	logger, buf := newBufferLogger(t, WarnLevel)

	logger.Info("hidden", Field{"k", "v"})
	assert.Empty(t, buf.String())

	logger.Warn("visible", Field{"k", "v"})
	out := buf.String()
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "WARN")
}

func TestZapAdapter_ErrorField(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	logger.Error("failed", errors.New("token endpoint down"))
	assert.Contains(t, buf.String(), "token endpoint down")
}

func TestWithFields(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)

	child := logger.WithFields(Field{"integration_id", "int-42"})
	child.Info("refreshed")

	assert.Contains(t, buf.String(), "int-42")
}

func TestGlobalLogger(t *testing.T) {
	logger, buf := newBufferLogger(t, InfoLevel)
	SetGlobalLogger(logger)
	defer SetGlobalLogger(NewDefaultLogger())

	Info("global message", String("k", "v"))
	assert.Contains(t, buf.String(), "global message")
}
