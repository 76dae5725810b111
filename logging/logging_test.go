package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestStderrText(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(Config{Level: "warn", Service: "test"}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("hidden")
	logger.Warn("shown", "k", 1)

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "service=test")
	assert.Contains(t, out, "k=1")
}

func TestStderrJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(Config{Level: "debug", JSON: true}, &buf)
	require.NoError(t, err)
	defer closer.Close()

	logger.Debug("event", "n", 3)

	var m map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &m))
	assert.Equal(t, "event", m["msg"])
	assert.Equal(t, float64(3), m["n"])
}

func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger, closer, err := newLogger(Config{Level: "info", LogDir: dir, Service: "svc", Quiet: true}, &buf)
	require.NoError(t, err)

	logger.Info("to file")
	require.NoError(t, closer.Close())

	assert.Empty(t, buf.String())
	data, err := os.ReadFile(filepath.Join(dir, FileName("svc", time.Now())))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"to file"`)
	assert.Contains(t, string(data), `"service":"svc"`)
}

func TestNoDestination(t *testing.T) {
	_, _, err := newLogger(Config{Quiet: true}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	day := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "svc_2026-03-04.log", FileName("svc", day))
	assert.True(t, strings.HasPrefix(FileName("", day), "banditformula_"))
}
