package fetch

import "fmt"

// RemoteFetchError signals that a source could not reach or understand its
// remote entirely (as opposed to a single file failing), mirroring
// original_source/fetch/_core.py RemoteFetchException. Workers treat it as a
// fatal, rule-ending error.
type RemoteFetchError struct {
	Summary  string
	Detailed string
}

func (e *RemoteFetchError) Error() string {
	if e.Detailed == "" {
		return e.Summary
	}
	return fmt.Sprintf("%s: %s", e.Summary, e.Detailed)
}

func NewRemoteFetchError(summary, detailed string) *RemoteFetchError {
	return &RemoteFetchError{Summary: summary, Detailed: detailed}
}

// ProcessError signals that a PostProcessor's external command failed,
// mirroring _core.py FileProcessError.
type ProcessError struct {
	Path   string
	Reason string
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("processing %s: %s", e.Path, e.Reason)
}
