package fetch

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// execCommand is a mockable exec.Command, following the teacher's
// internal/rclone_service/rclone_service.go idiom (execCommandContext /
// cmdCombinedOutput package vars) for testable subprocess invocation.
var execCommand = exec.Command

// RsyncMirrorSource mirrors a remote directory tree into a local one via
// rsync(1), mirroring original_source/fetch/util.py rsync() and
// _core.py RsyncMirrorSource.
type RsyncMirrorSource struct {
	SourcePath string
	SourceHost string // empty means local
	TargetPath string
	TargetHost string // empty means local
}

func rsyncEndpoint(host, path string) string {
	if host == "" {
		return path
	}
	return fmt.Sprintf("%s:%s", host, path)
}

func (s *RsyncMirrorSource) Trigger(reporter Reporter) error {
	args := []string{
		"-e", "ssh -c arcfour",
		"-aL", "--out-format=%n",
		rsyncEndpoint(s.SourceHost, s.SourcePath),
		rsyncEndpoint(s.TargetHost, s.TargetPath),
	}

	cmd := execCommand("rsync", args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rsync %s -> %s: %w: %s", s.SourcePath, s.TargetPath, err, stderr.String())
	}

	var transferred []string
	scanner := bufio.NewScanner(&stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasSuffix(line, "/") {
			continue
		}
		transferred = append(transferred, toAbsolute(line, s.TargetPath))
	}

	if len(transferred) == 0 {
		return nil
	}

	sourceURI := QualifiedFileURI(s.SourceHost, s.SourcePath)
	reporter.FilesComplete(sourceURI, transferred, nil)
	return nil
}

// toAbsolute resolves an rsync --out-format=%n relative path against the
// destination base directory, mirroring util.py to_absolute.
func toAbsolute(name, baseDir string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(baseDir, name)
}

// QualifiedFileURI builds a fully host-qualified file:// URI, mirroring the
// subset of original_source/fetch/util.py Uri actually exercised by
// RsyncMirrorSource.trigger: a plain local path becomes file://<hostname>/path,
// and an explicit remote host is used as-is.
func QualifiedFileURI(host, path string) string {
	if host == "" || host == "localhost" {
		if h, err := os.Hostname(); err == nil {
			host = h
		} else {
			host = "localhost"
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("file://%s%s", host, path)
}
