package notify

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanfetch/fetchd/internal/bus"
)

// fakeLogger records every call instead of writing anywhere.
type fakeLogger struct {
	infos  []string
	errors []string
}

func (l *fakeLogger) LogInfo(format string, v ...interface{})  { l.infos = append(l.infos, format) }
func (l *fakeLogger) LogError(format string, v ...interface{}) { l.errors = append(l.errors, format) }

// fakeBus records every publish.
type fakeBus struct {
	published []bus.AncillaryUpdate
	err       error
}

func (b *fakeBus) Publish(update bus.AncillaryUpdate) error {
	b.published = append(b.published, update)
	return b.err
}

func TestSinkReporterFileErrorLogs(t *testing.T) {
	log := &fakeLogger{}
	r := &SinkReporter{Log: log, RuleName: "ls8-bpf", SanitizedName: "ls8-bpf"}

	r.FileError("http://example.com/a.tif", "Empty file", "")
	assert.Len(t, log.errors, 1)
}

func TestSinkReporterFilesCompletePublishesToBus(t *testing.T) {
	log := &fakeLogger{}
	b := &fakeBus{}
	r := &SinkReporter{Log: log, Bus: b, RuleName: "ls8-bpf", SanitizedName: "ls8-bpf"}

	r.FilesComplete("http://example.com/a.tif", []string{"/data/a.tif"}, map[string]string{"k": "v"})

	require.Len(t, b.published, 1)
	update := b.published[0]
	assert.Equal(t, "ls8-bpf", update.AncillaryType)
	require.Len(t, update.URIs, 1)
	assert.Contains(t, update.URIs[0], "/data/a.tif")
	assert.Equal(t, "http://example.com/a.tif", update.Properties["source-uri"])
	assert.Equal(t, "v", update.Properties["k"])
	assert.Len(t, log.infos, 1)
}

func TestSinkReporterFilesCompleteSkipsBusWhenNil(t *testing.T) {
	log := &fakeLogger{}
	r := &SinkReporter{Log: log, RuleName: "ls8-bpf", SanitizedName: "ls8-bpf"}
	assert.NotPanics(t, func() {
		r.FilesComplete("uri", []string{"/data/a.tif"}, nil)
	})
}

func TestSinkReporterLogsBusPublishFailure(t *testing.T) {
	log := &fakeLogger{}
	b := &fakeBus{err: errors.New("unreachable")}
	r := &SinkReporter{Log: log, Bus: b, RuleName: "ls8-bpf", SanitizedName: "ls8-bpf"}

	r.FilesComplete("uri", []string{"/data/a.tif"}, nil)
	assert.Len(t, log.errors, 1)
}

func TestToFileURILeavesExistingURIsAlone(t *testing.T) {
	assert.Equal(t, "ftp://host/a.tif", toFileURI("ftp://host/a.tif"))
}

func TestToFileURIQualifiesBarePaths(t *testing.T) {
	uri := toFileURI("/data/a.tif")
	assert.Contains(t, uri, "file://")
	assert.Contains(t, uri, "/data/a.tif")
}

func TestTriggerMetadataFormatsTimeInUTC(t *testing.T) {
	when := time.Date(2013, 8, 6, 4, 36, 0, 0, time.UTC)
	meta := TriggerMetadata("ls8-bpf", "*/5 * * * *", when)
	assert.Equal(t, "ls8-bpf", meta["fetch-trigger-name"])
	assert.Equal(t, "*/5 * * * *", meta["fetch-cron-pattern"])
	assert.Equal(t, "2013-08-06 04:36:00", meta["fetch-trigger-time"])
}

// fakeProcessor records which paths it was asked to process, optionally
// failing a chosen one.
type fakeProcessor struct {
	failPath string
	calls    []string
}

func (p *fakeProcessor) Process(path string) (string, error) {
	p.calls = append(p.calls, path)
	if path == p.failPath {
		return "", errors.New("processing failed")
	}
	return path + ".processed", nil
}

func TestProcessingReporterAppliesProcessorBeforeForwarding(t *testing.T) {
	log := &fakeLogger{}
	inner := &SinkReporter{Log: log, RuleName: "r", SanitizedName: "r"}
	proc := &fakeProcessor{}
	wrapped := &ProcessingReporter{Inner: inner, Process: proc, RuleName: "r", CronPattern: "*/5 * * * *"}

	wrapped.FilesComplete("uri", []string{"/data/a.tif"}, nil)

	assert.Equal(t, []string{"/data/a.tif"}, proc.calls)
	assert.Nil(t, wrapped.FirstErr)
}

func TestProcessingReporterCapturesFirstProcessFailureWithoutForwardingAsFileError(t *testing.T) {
	log := &fakeLogger{}
	inner := &SinkReporter{Log: log, RuleName: "r", SanitizedName: "r"}
	proc := &fakeProcessor{failPath: "/data/a.tif"}
	wrapped := &ProcessingReporter{Inner: inner, Process: proc, RuleName: "r"}

	wrapped.FilesComplete("uri", []string{"/data/a.tif"}, nil)

	require.Error(t, wrapped.FirstErr)
	assert.Empty(t, log.errors, "a post-process failure must not surface as a FileError log line")
}

func TestProcessingReporterStillForwardsFilesThatProcessedCleanly(t *testing.T) {
	log := &fakeLogger{}
	inner := &SinkReporter{Log: log, RuleName: "r", SanitizedName: "r"}
	proc := &fakeProcessor{failPath: "/data/bad.tif"}
	wrapped := &ProcessingReporter{Inner: inner, Process: proc, RuleName: "r"}

	wrapped.FilesComplete("uri", []string{"/data/good.tif", "/data/bad.tif"}, nil)

	require.Error(t, wrapped.FirstErr)
	assert.Len(t, log.infos, 1, "the cleanly processed file should still be logged as fetched")
}

func TestProcessingReporterSkipsProcessingWhenNoProcessorConfigured(t *testing.T) {
	log := &fakeLogger{}
	inner := &SinkReporter{Log: log, RuleName: "r", SanitizedName: "r"}
	wrapped := &ProcessingReporter{Inner: inner, RuleName: "r"}

	wrapped.FilesComplete("uri", []string{"/data/a.tif"}, nil)
	assert.Nil(t, wrapped.FirstErr)
	assert.Len(t, log.infos, 1)
}

func TestProcessingReporterForwardsFileErrorUnchanged(t *testing.T) {
	log := &fakeLogger{}
	inner := &SinkReporter{Log: log, RuleName: "r", SanitizedName: "r"}
	wrapped := &ProcessingReporter{Inner: inner, RuleName: "r"}

	wrapped.FileError("uri", "summary", "body")
	assert.Len(t, log.errors, 1)
}
