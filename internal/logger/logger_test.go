package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestNewLoggerWritesJSONToConsole(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(LoggerConfig{Level: "debug", Console: true}, &buf)
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	WithFileOperation(log, "a.jpg", "compress").Info("done")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "done", entry["message"])
	assert.Equal(t, "a.jpg", entry["file"])
	assert.Equal(t, "compress", entry["operation"])
	assert.Contains(t, entry, "timestamp")
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "shrinker.log")
	log, err := NewLogger(LoggerConfig{Level: "info", FilePath: path, MaxSize: 1})
	require.NoError(t, err)

	WithJob(log, "job-1").Warn("slow")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"job":"job-1"`)
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	log, err := newLogger(LoggerConfig{Level: "info", Console: true}, &buf)
	require.NoError(t, err)

	WithOperation(WithFile(log, "b.png"), "batch").Info("step")
	WithJob(log, "job-1").Warn("slow")

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var first, second map[string]any
	require.NoError(t, json.Unmarshal(lines[0], &first))
	require.NoError(t, json.Unmarshal(lines[1], &second))
	assert.Equal(t, "b.png", first["file"])
	assert.Equal(t, "batch", first["operation"])
	assert.Equal(t, "job-1", second["job"])
	assert.Equal(t, "warning", second["level"])
}
