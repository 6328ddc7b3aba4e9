package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LevelDebug, ParseLevel("debug"))
	assert.Equal(t, LevelError, ParseLevel("error"))
	assert.Equal(t, LevelInfo, ParseLevel("info"))
	assert.Equal(t, LevelInfo, ParseLevel(""))
	assert.Equal(t, LevelInfo, ParseLevel("bogus"))
}

func TestLoggerWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "log", "supervisor.log")

	l, err := New(path, DefaultOptions())
	require.NoError(t, err)
	defer l.Close()

	l.LogInfo("hello %s", "world")
	l.LogError("boom")
	require.NoError(t, l.file.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello world")
	assert.Contains(t, string(data), "boom")
}

func TestDebugGatedByLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supervisor.log")
	opts := DefaultOptions()
	opts.Level = LevelError
	l, err := New(path, opts)
	require.NoError(t, err)
	defer l.Close()

	l.LogDebug("should not appear")
	l.LogInfo("should not appear either")
	require.NoError(t, l.file.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "should not appear")
}
