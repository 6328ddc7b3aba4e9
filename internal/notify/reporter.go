// Package notify implements the composite Reporter that fans per-file events
// out to a log, the message bus, and email, mirroring
// original_source/fetch/auto.py NotifyResultHandler.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/oceanfetch/fetchd/internal/bus"
	"github.com/oceanfetch/fetchd/internal/fetch"
	"github.com/oceanfetch/fetchd/internal/mailer"
)

// Logger is the narrow logging surface SinkReporter needs, satisfied by
// *internal/logging.Logger.
type Logger interface {
	LogInfo(format string, v ...interface{})
	LogError(format string, v ...interface{})
}

// SinkReporter fans fetch.Reporter events out to a log line always, the
// message bus on completion, and email on error, mirroring
// auto.py NotifyResultHandler.on_file_complete / on_file_failure.
type SinkReporter struct {
	Log           Logger
	Bus           bus.Bus
	Mailer        *mailer.Mailer
	RuleName      string
	SanitizedName string
}

var _ fetch.Reporter = (*SinkReporter)(nil)

func (r *SinkReporter) FileError(uri, summary, body string) {
	r.Log.LogError("rule %s: fetch error for %s: %s", r.RuleName, uri, summary)
	if r.Mailer != nil {
		if err := r.Mailer.NotifyFileError(r.RuleName, uri, summary, body); err != nil {
			r.Log.LogError("rule %s: failed sending error email for %s: %v", r.RuleName, uri, err)
		}
	}
}

func (r *SinkReporter) FilesComplete(sourceURI string, paths []string, metadata map[string]string) {
	for _, p := range paths {
		r.Log.LogInfo("rule %s: fetched %s -> %s", r.RuleName, sourceURI, p)
	}

	if r.Bus == nil {
		return
	}
	uris := make([]string, len(paths))
	for i, p := range paths {
		uris[i] = toFileURI(p)
	}
	properties := map[string]string{"source-uri": sourceURI}
	for k, v := range metadata {
		properties[k] = v
	}
	update := bus.AncillaryUpdate{
		AncillaryType: r.SanitizedName,
		URIs:          uris,
		Properties:    properties,
	}
	if err := r.Bus.Publish(update); err != nil {
		r.Log.LogError("rule %s: failed publishing ancillary update: %v", r.RuleName, err)
	}
}

// toFileURI leaves anything that already looks like a URI (http://, ftp://,
// file://) alone, and otherwise turns a bare local path into a qualified
// file:// URI, matching spec.md §6's "followed path(s)" / "uris" wording.
func toFileURI(path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return fetch.QualifiedFileURI("", path)
}

// TriggerMetadata is the {cron-pattern, trigger-name, trigger-time} tag set
// the Worker stamps onto every FilesComplete call, mirroring auto.py
// ScheduledProcess.run's result_handler wrapping.
func TriggerMetadata(ruleName, cronPattern string, triggerTime time.Time) map[string]string {
	return map[string]string{
		"fetch-cron-pattern":  cronPattern,
		"fetch-trigger-name":  ruleName,
		"fetch-trigger-time":  triggerTime.UTC().Format("2006-01-02 15:04:05"),
	}
}

// ProcessingReporter wraps an inner Reporter so that every FilesComplete
// call first runs an optional PostProcessor over each file (substituting
// its possibly-renamed output before forwarding) and tags the metadata with
// TriggerMetadata, mirroring auto.py ScheduledProcess.run's
// "process then notify" order (spec.md §4.H step 5).
//
// Per spec.md §7, a post-processing failure is a Worker-level error, not a
// per-file Reporter.FileError — fetch.Reporter has no error return, so
// ProcessingReporter records the first failure on FirstErr instead of
// forwarding it; the Worker checks FirstErr after Source.Trigger returns
// and exits non-zero if it is set, even though Trigger itself reported no
// error.
type ProcessingReporter struct {
	Inner       fetch.Reporter
	Process     fetch.Processor
	RuleName    string
	CronPattern string
	TriggerTime time.Time

	FirstErr error
}

var _ fetch.Reporter = (*ProcessingReporter)(nil)

func (r *ProcessingReporter) FileError(uri, summary, body string) {
	r.Inner.FileError(uri, summary, body)
}

func (r *ProcessingReporter) FilesComplete(sourceURI string, paths []string, _ map[string]string) {
	tagged := TriggerMetadata(r.RuleName, r.CronPattern, r.TriggerTime)

	if r.Process == nil {
		r.Inner.FilesComplete(sourceURI, paths, tagged)
		return
	}

	processed := make([]string, 0, len(paths))
	for _, p := range paths {
		out, err := r.Process.Process(p)
		if err != nil {
			if r.FirstErr == nil {
				r.FirstErr = fmt.Errorf("post-process %s: %w", p, err)
			}
			continue
		}
		processed = append(processed, out)
	}
	if len(processed) == 0 {
		return
	}
	r.Inner.FilesComplete(sourceURI, processed, tagged)
}
