package fetch

// Reporter receives the outcome of a Source's trigger, mirroring
// original_source/fetch/_core.py ResultHandler. This is the shape
// spec.md's Open Questions resolve the Python API divergence in favor of:
// a bulk FilesComplete call per batch, not a single-file FileComplete call.
type Reporter interface {
	// FileError reports that a single file could not be fetched or was
	// rejected (e.g. empty). body carries any response content useful for
	// diagnosis; it may be empty.
	FileError(uri, summary, body string)

	// FilesComplete reports that every path in paths was fetched from
	// sourceURI. metadata carries reporter-agnostic tags (e.g. the
	// triggering rule name and cron pattern) that fan out to every sink.
	FilesComplete(sourceURI string, paths []string, metadata map[string]string)
}

// ForEachFile adapts a Reporter to per-file semantics for callers that only
// want to think about one file at a time, mirroring ResultHandler's default
// files_complete implementation (which iterates file_complete).
func ForEachFile(r Reporter, sourceURI string, paths []string, metadata map[string]string, fn func(path string)) {
	for _, p := range paths {
		fn(p)
	}
	r.FilesComplete(sourceURI, paths, metadata)
}

// NopReporter discards everything; useful in tests and dry runs.
type NopReporter struct{}

func (NopReporter) FileError(string, string, string)          {}
func (NopReporter) FilesComplete(string, []string, map[string]string) {}
