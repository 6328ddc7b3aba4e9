package fetch

import (
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/jlaffaye/ftp"
)

// ftpEmptyListingErrors are server response prefixes treated as "directory
// has no files" rather than a failure, mirroring
// original_source/fetch/ftp.py FtpListingSource.trigger's catch of
// "550 No files found" and "450"-prefixed responses.
var ftpEmptyListingErrors = []string{"550 No files found", "450"}

// ftpBase holds fields shared by the FTP-family sources, mirroring
// original_source/fetch/ftp.py _FtpBaseSource.
type ftpBase struct {
	Host       string
	Port       int
	TargetDir  string
	Transform  Transform
	Timeout    time.Duration
	RetryCount int
	RetryDelay time.Duration
}

func (b *ftpBase) retryCount() int {
	if b.RetryCount == 0 {
		return 3
	}
	return b.RetryCount
}

func (b *ftpBase) retryDelay() time.Duration {
	if b.RetryDelay == 0 {
		return 5 * time.Second
	}
	return b.RetryDelay
}

func (b *ftpBase) timeout() time.Duration {
	if b.Timeout == 0 {
		return 300 * time.Second
	}
	return b.Timeout
}

// dial connects and logs in anonymously, mirroring
// _FtpBaseSource._connect's default-timeout, anonymous-login shape.
func (b *ftpBase) dial() (*ftp.ServerConn, error) {
	addr := fmt.Sprintf("%s:%d", b.Host, b.Port)
	if b.Port == 0 {
		addr = fmt.Sprintf("%s:21", b.Host)
	}
	conn, err := ftp.Dial(addr, ftp.DialWithTimeout(b.timeout()))
	if err != nil {
		return nil, err
	}
	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		conn.Quit()
		return nil, err
	}
	return conn, nil
}

// fetchPath downloads a single absolute remote path into targetDir, with
// reconnect-on-transient-error retry, mirroring
// _FtpBaseSource._fetch_files' per-file retry loop.
func (b *ftpBase) fetchPath(reporter Reporter, remotePath string, overrideExisting bool) error {
	name := path.Base(remotePath)
	uri := fmt.Sprintf("ftp://%s%s", b.Host, remotePath)
	return WithRetry(b.retryCount(), b.retryDelay(), func(attempt int) error {
		conn, err := b.dial()
		if err != nil {
			return err
		}
		defer conn.Quit()

		_, err = FetchFile(uri, func(tempPath string) (bool, error) {
			resp, err := conn.Retr(remotePath)
			if err != nil {
				return false, err
			}
			defer resp.Close()
			f, err := openForWrite(tempPath)
			if err != nil {
				return false, err
			}
			defer f.Close()
			buf := make([]byte, 4096)
			if _, err := io.CopyBuffer(f, resp, buf); err != nil {
				return false, err
			}
			return true, nil
		}, reporter, name, b.TargetDir, b.Transform, overrideExisting)
		return err
	})
}

// FtpSource fetches a fixed list of absolute remote paths, mirroring
// ftp.py FtpSource.
type FtpSource struct {
	ftpBase
	Paths []string
}

// NewFtpSource builds an FtpSource; the seam internal/config uses since
// ftpBase's fields are package-private.
func NewFtpSource(host string, port int, paths []string, targetDir string, transform Transform, timeoutSeconds, retryCount, retryDelaySeconds int) *FtpSource {
	return &FtpSource{
		ftpBase: newFTPBase(host, port, targetDir, transform, timeoutSeconds, retryCount, retryDelaySeconds),
		Paths:   paths,
	}
}

// newFTPBase builds the fields shared across FTP-family sources from plain
// config values (seconds -> time.Duration).
func newFTPBase(host string, port int, targetDir string, transform Transform, timeoutSeconds, retryCount, retryDelaySeconds int) ftpBase {
	b := ftpBase{
		Host:       host,
		Port:       port,
		TargetDir:  targetDir,
		Transform:  transform,
		RetryCount: retryCount,
	}
	if timeoutSeconds > 0 {
		b.Timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if retryDelaySeconds > 0 {
		b.RetryDelay = time.Duration(retryDelaySeconds) * time.Second
	}
	return b
}

func (s *FtpSource) Trigger(reporter Reporter) error {
	if len(s.Paths) == 0 {
		return NewRemoteFetchError("no paths configured", "")
	}
	for _, p := range s.Paths {
		if err := s.fetchPath(reporter, p, true); err != nil {
			return NewRemoteFetchError("ftp fetch failed", err.Error())
		}
	}
	return nil
}

// FtpListingSource NLSTs a remote directory and fetches every entry whose
// basename matches NamePattern, mirroring ftp.py FtpListingSource.
type FtpListingSource struct {
	ftpBase
	SourceDir   string
	NamePattern string
}

// NewFtpListingSource builds an FtpListingSource; see NewFtpSource.
func NewFtpListingSource(host string, port int, sourceDir, namePattern, targetDir string, transform Transform, timeoutSeconds, retryCount, retryDelaySeconds int) *FtpListingSource {
	return &FtpListingSource{
		ftpBase:     newFTPBase(host, port, targetDir, transform, timeoutSeconds, retryCount, retryDelaySeconds),
		SourceDir:   sourceDir,
		NamePattern: namePattern,
	}
}

func (s *FtpListingSource) Trigger(reporter Reporter) error {
	names, err := s.list()
	if err != nil {
		return NewRemoteFetchError("ftp listing failed", err.Error())
	}

	pattern := s.NamePattern
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid name_pattern %q: %w", pattern, err)
	}

	for _, name := range names {
		base := path.Base(name)
		if !re.MatchString(base) {
			continue
		}
		remotePath := name
		if !strings.HasPrefix(remotePath, "/") {
			remotePath = path.Join(s.SourceDir, base)
		}
		if err := s.fetchPath(reporter, remotePath, true); err != nil {
			return NewRemoteFetchError("ftp fetch failed", err.Error())
		}
	}
	return nil
}

// list NLSTs SourceDir, treating the original's documented "no files"
// responses as an empty listing rather than an error.
func (s *FtpListingSource) list() ([]string, error) {
	conn, err := s.dial()
	if err != nil {
		return nil, err
	}
	defer conn.Quit()

	names, err := conn.NameList(s.SourceDir)
	if err != nil {
		msg := err.Error()
		for _, prefix := range ftpEmptyListingErrors {
			if strings.HasPrefix(msg, prefix) {
				return nil, nil
			}
		}
		return nil, err
	}
	return names, nil
}
