package fetch

import "time"

// WithRetry wraps fn so that an error from attempts 1..count-1 is swallowed
// and retried after delay*attemptNumber, and only the final attempt's error
// (if any) is returned. This is the retry/backoff shape
// original_source/fetch/http.py _HttpBaseSource._fetch_files and
// ftp.py _fetch_files both hand-roll inline. The FTP adapters use it; the
// HTTP adapters run the same count-and-backoff loop inline in
// httpBase.fetchURL, since a failed HTTP attempt is signalled by the fetch
// closure rather than by a returned error.
func WithRetry(count int, delay time.Duration, fn func(attempt int) error) error {
	if count < 1 {
		count = 1
	}
	var lastErr error
	for attempt := 1; attempt <= count; attempt++ {
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt < count {
			time.Sleep(delay * time.Duration(attempt))
		}
	}
	return lastErr
}
