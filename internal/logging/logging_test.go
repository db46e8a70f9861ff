package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/milad/usagewatch/internal/config"
)

func TestBuild_JSONLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log, err := build(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	require.NoError(t, err)

	log.Info("dropped")
	log.Named("service").Warn("kept", zap.String("property_id", "p1"))
	require.NoError(t, log.Sync())

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "service", entry["logger"])
	assert.Equal(t, "p1", entry["property_id"])
}

func TestBuild_WritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usagewatch.log")
	var buf bytes.Buffer
	log, err := build(config.LoggingConfig{Level: "info", Format: "console", File: path, MaxSizeMB: 1}, &buf)
	require.NoError(t, err)

	log.Info("hello")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
	assert.Contains(t, buf.String(), "hello")
}

func TestBuild_RejectsBadSettings(t *testing.T) {
	_, err := build(config.LoggingConfig{Level: "loud", Format: "json"}, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = build(config.LoggingConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	assert.Error(t, err)
}
