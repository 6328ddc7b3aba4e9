// Package fetch implements the atomic file-fetch primitive, the pluggable
// filename transforms, post-processors, and the concrete Source adapters
// (HTTP, FTP, RSS, rsync mirror, date-range wrapper, empty), grounded on
// original_source/fetch/_core.py, http.py, ftp.py and util.py.
package fetch

import (
	"fmt"
	"os"
	"path/filepath"
)

// FetchFunc writes one file's content to the already-created temp file at
// tempPath. It returns false (with no error) when the remote legitimately
// reported no content for this attempt, matching the original's
// "fetch_fn returns falsy -> no reporter event" short-circuit.
type FetchFunc func(tempPath string) (bool, error)

// FetchFile stages content from a remote into targetDir/targetFilename
// (after running filenameTransform, if any) via a temp file in the same
// directory, then renames it into place atomically. It mirrors
// original_source/fetch/_core.py fetch_file exactly:
//
//   - the transform is applied to both the filename and the directory
//   - if the (transformed) target already exists and overrideExisting is
//     false, the fetch is skipped silently (no reporter event at all)
//   - a temp file named ".fetch-XXXXXX" is created in targetDir so the
//     final rename is on the same filesystem
//   - fetchFn populates the temp file; if it returns false, FetchFile
//     returns nil without ever telling the reporter (the remote had
//     nothing new)
//   - a temp file that vanished, or is zero bytes, is reported via
//     reporter.FileError and not renamed
//   - on success the temp file is renamed over the target path and
//     reporter.FilesComplete is invoked with a single-element batch
//
// It returns the final target path when a file was actually fetched, or ""
// when the fetch was skipped (already exists) or the remote had nothing new.
func FetchFile(uri string, fetchFn FetchFunc, reporter Reporter, targetFilename, targetDir string, transform Transform, overrideExisting bool) (string, error) {
	if transform == nil {
		transform = Identity
	}
	name := transform.TransformName(targetFilename)
	dir := transform.TransformDir(targetDir, targetFilename)
	targetPath := filepath.Join(dir, name)

	if !overrideExisting {
		if _, err := os.Stat(targetPath); err == nil {
			return "", nil
		}
	}

	if err := mkdirs(dir); err != nil {
		return "", fmt.Errorf("create target directory %s: %w", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return "", fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tempPath := tempFile.Name()
	tempFile.Close()
	defer func() {
		if _, err := os.Stat(tempPath); err == nil {
			os.Remove(tempPath)
		}
	}()

	ok, err := fetchFn(tempPath)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}

	info, err := os.Stat(tempPath)
	if os.IsNotExist(err) {
		reporter.FileError(uri, "No file", "")
		return "", nil
	} else if err != nil {
		return "", fmt.Errorf("stat temp file: %w", err)
	}
	if info.Size() == 0 {
		reporter.FileError(uri, "Empty file", "")
		return "", nil
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		return "", fmt.Errorf("rename %s to %s: %w", tempPath, targetPath, err)
	}

	reporter.FilesComplete(uri, []string{targetPath}, nil)
	return targetPath, nil
}

// mkdirs is the EEXIST-tolerant directory creation original_source/fetch/_core.py
// calls mkdirs for — Go's os.MkdirAll is already EEXIST-tolerant, so this is a
// thin, named wrapper kept for readability at call sites.
func mkdirs(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// openForWrite truncates/creates path for a fresh write, used by every
// source's fetchFn to populate its temp file.
func openForWrite(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
}
