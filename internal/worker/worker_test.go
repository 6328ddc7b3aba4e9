package worker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanfetch/fetchd/internal/config"
	"github.com/oceanfetch/fetchd/internal/fetch"
)

func TestNameFormatsHHMMSanitizedName(t *testing.T) {
	scheduled := time.Date(2013, 8, 6, 4, 36, 0, 0, time.UTC)
	assert.Equal(t, "fetch-0436-ls7-cpf", Name("ls7-cpf", scheduled))
}

func TestLogPathLayout(t *testing.T) {
	scheduled := time.Date(2013, 8, 6, 4, 36, 0, 0, time.UTC)
	got := LogPath("/data", "ls7-cpf", scheduled)
	assert.Equal(t, filepath.Join("/data", "log", "2013", "08-06", "0436-ls7-cpf.log"), got)
}

func TestLockPathLayout(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "lock", "ls7-cpf.lck"), LockPath("/data", "ls7-cpf"))
}

// alwaysFailsSource always returns the same RemoteFetchError.
type alwaysFailsSource struct{}

func (alwaysFailsSource) Trigger(fetch.Reporter) error {
	return fetch.NewRemoteFetchError("remote unreachable", "connection refused")
}

// alwaysErrorsSource returns a plain, non-RemoteFetchError error.
type alwaysErrorsSource struct{}

func (alwaysErrorsSource) Trigger(fetch.Reporter) error {
	return assertionError("boom")
}

type assertionError string

func (e assertionError) Error() string { return string(e) }

func baseConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{Directory: dir}
}

func TestRunSucceedsWithEmptySource(t *testing.T) {
	cfg := baseConfig(t)
	rule := &config.Rule{Name: "noop", SanitizedName: "noop", Source: fetch.EmptySource{}}
	scheduled := time.Now().UTC()

	code := Run(cfg, rule, scheduled)
	assert.Equal(t, ExitSuccessOrLocked, code)

	_, err := os.Stat(LogPath(cfg.Directory, rule.SanitizedName, scheduled))
	require.NoError(t, err)
}

func TestRunReturnsInitialFailureOnRemoteFetchError(t *testing.T) {
	cfg := baseConfig(t)
	rule := &config.Rule{Name: "remote-down", SanitizedName: "remote-down", Source: alwaysFailsSource{}}

	code := Run(cfg, rule, time.Now().UTC())
	assert.Equal(t, ExitInitialFailure, code)
}

func TestRunReturnsInternalFailureOnOtherError(t *testing.T) {
	cfg := baseConfig(t)
	rule := &config.Rule{Name: "broken", SanitizedName: "broken", Source: alwaysErrorsSource{}}

	code := Run(cfg, rule, time.Now().UTC())
	assert.Equal(t, ExitInternalFailure, code)
}

// completesWithOneFileSource calls FilesComplete for a single fixed path and
// reports no error of its own, mirroring a Source whose remote fetch
// succeeded but whose configured post-processor then fails.
type completesWithOneFileSource struct {
	path string
}

func (s completesWithOneFileSource) Trigger(reporter fetch.Reporter) error {
	reporter.FilesComplete("uri", []string{s.path}, nil)
	return nil
}

// alwaysFailingProcessor fails every file handed to it.
type alwaysFailingProcessor struct{}

func (alwaysFailingProcessor) Process(string) (string, error) {
	return "", assertionError("post-process boom")
}

func TestRunReturnsInternalFailureWhenPostProcessingFails(t *testing.T) {
	cfg := baseConfig(t)
	filePath := filepath.Join(cfg.Directory, "a.tif")
	require.NoError(t, os.WriteFile(filePath, []byte("x"), 0o644))

	rule := &config.Rule{
		Name:          "with-processor",
		SanitizedName: "with-processor",
		Source:        completesWithOneFileSource{path: filePath},
		Process:       alwaysFailingProcessor{},
	}

	code := Run(cfg, rule, time.Now().UTC())
	assert.Equal(t, ExitInternalFailure, code, "a post-process failure must fail the run even though Trigger itself reported no error")
}

func TestRunExitsCleanlyWhenLockAlreadyHeld(t *testing.T) {
	cfg := baseConfig(t)
	rule := &config.Rule{Name: "locked", SanitizedName: "locked", Source: fetch.EmptySource{}}
	scheduled := time.Now().UTC()

	lockPath := LockPath(cfg.Directory, rule.SanitizedName)
	require.NoError(t, os.MkdirAll(filepath.Dir(lockPath), 0o755))
	require.NoError(t, os.WriteFile(lockPath, nil, 0o644))
	holder := flock.New(lockPath)
	locked, err := holder.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer holder.Unlock()

	code := Run(cfg, rule, scheduled)
	assert.Equal(t, ExitSuccessOrLocked, code)
}
