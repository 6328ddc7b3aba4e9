package fetch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingReporter captures every Reporter call for assertions.
type recordingReporter struct {
	errors    []string
	completed []string
}

func (r *recordingReporter) FileError(uri, summary, body string) {
	r.errors = append(r.errors, summary)
}

func (r *recordingReporter) FilesComplete(sourceURI string, paths []string, metadata map[string]string) {
	r.completed = append(r.completed, paths...)
}

func TestFetchFileRenamesIntoPlace(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingReporter{}

	path, err := FetchFile("http://example.com/a.tif", func(tempPath string) (bool, error) {
		return true, os.WriteFile(tempPath, []byte("data"), 0o644)
	}, reporter, "a.tif", dir, nil, true)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.tif"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
	assert.Equal(t, []string{path}, reporter.completed)
	assert.Empty(t, reporter.errors)
}

func TestFetchFileSkipsWhenExistingAndNotOverriding(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "a.tif")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	called := false
	reporter := &recordingReporter{}
	path, err := FetchFile("http://example.com/a.tif", func(tempPath string) (bool, error) {
		called = true
		return true, nil
	}, reporter, "a.tif", dir, nil, false)

	require.NoError(t, err)
	assert.Empty(t, path)
	assert.False(t, called)
	assert.Empty(t, reporter.completed)
}

func TestFetchFileReportsEmptyFile(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingReporter{}

	path, err := FetchFile("http://example.com/a.tif", func(tempPath string) (bool, error) {
		return true, nil // temp file exists but has zero bytes
	}, reporter, "a.tif", dir, nil, true)

	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, []string{"Empty file"}, reporter.errors)
	_, statErr := os.Stat(filepath.Join(dir, "a.tif"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestFetchFileSkipsSilentlyWhenFetchFnReportsNothingNew(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingReporter{}

	path, err := FetchFile("http://example.com/a.tif", func(tempPath string) (bool, error) {
		return false, nil
	}, reporter, "a.tif", dir, nil, true)

	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Empty(t, reporter.errors)
	assert.Empty(t, reporter.completed)
}

func TestFetchFilePropagatesFetchFnError(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingReporter{}
	boom := errors.New("boom")

	_, err := FetchFile("http://example.com/a.tif", func(tempPath string) (bool, error) {
		return false, boom
	}, reporter, "a.tif", dir, nil, true)

	assert.ErrorIs(t, err, boom)
}

func TestFetchFileAppliesTransform(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingReporter{}
	transform, err := NewRegexpOutputPathTransform(`LS8_(?P<year>\d{4})`)
	require.NoError(t, err)

	subdir := filepath.Join(dir, "{year}")
	path, err := FetchFile("http://example.com/LS8_2003.tif", func(tempPath string) (bool, error) {
		return true, os.WriteFile(tempPath, []byte("x"), 0o644)
	}, reporter, "LS8_2003.tif", subdir, transform, true)

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2003", "LS8_2003.tif"), path)
}

func TestFetchFileCleansUpTempFileOnError(t *testing.T) {
	dir := t.TempDir()
	reporter := &recordingReporter{}
	boom := errors.New("boom")

	_, err := FetchFile("http://example.com/a.tif", func(tempPath string) (bool, error) {
		require.NoError(t, os.WriteFile(tempPath, []byte("partial"), 0o644))
		return false, boom
	}, reporter, "a.tif", dir, nil, true)

	assert.ErrorIs(t, err, boom)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp file should be cleaned up")
}
