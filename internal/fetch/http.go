package fetch

import (
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	xhtml "golang.org/x/net/html"
)

// trustedRedirectHosts lists hosts for which Authorization headers survive a
// cross-host redirect, mirroring original_source/fetch/http.py
// SessionWithRedirection.TRUSTED_HOSTS. Go's net/http strips Authorization
// on any redirect to a different host by default; this allowlist is the
// direct port of that override.
var trustedRedirectHosts = map[string]bool{
	"urs.earthdata.nasa.gov": true,
}

// newHTTPClient builds the shared client used by every HTTP-family source,
// installing the trusted-host redirect policy described above.
func newHTTPClient(timeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(nil)
	return &http.Client{
		Timeout: timeout,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) == 0 {
				return nil
			}
			prev := via[0]
			if trustedRedirectHosts[prev.URL.Hostname()] || trustedRedirectHosts[req.URL.Hostname()] {
				if auth := prev.Header.Get("Authorization"); auth != "" {
					req.Header.Set("Authorization", auth)
				}
			}
			return nil
		},
	}
}

// Beforehand runs once before an HTTP source's per-URL fetches, mirroring
// original_source/fetch/http.py HttpAuthAction / HttpPostAction (a
// supplemented feature: see SPEC_FULL.md §3.1).
type Beforehand interface {
	Run(client *http.Client) error
}

// HttpAuthAction performs a single authenticated GET and discards the body,
// used to establish a session/cookie before the real fetches run.
type HttpAuthAction struct {
	URL      string
	Username string
	Password string
}

func (a *HttpAuthAction) Run(client *http.Client) error {
	req, err := http.NewRequest(http.MethodGet, a.URL, nil)
	if err != nil {
		return err
	}
	if a.Username != "" {
		req.SetBasicAuth(a.Username, a.Password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return NewRemoteFetchError("auth request failed", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NewRemoteFetchError("auth request failed", fmt.Sprintf("status %d", resp.StatusCode))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// HttpPostAction posts a fixed form body once before the real fetches run.
type HttpPostAction struct {
	URL    string
	Fields url.Values
}

func (a *HttpPostAction) Run(client *http.Client) error {
	resp, err := client.PostForm(a.URL, a.Fields)
	if err != nil {
		return NewRemoteFetchError("post action failed", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NewRemoteFetchError("post action failed", fmt.Sprintf("status %d", resp.StatusCode))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// filenameFromURL returns the last path segment of url, mirroring
// original_source/fetch/http.py filename_from_url.
func filenameFromURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", err
	}
	return path.Base(u.Path), nil
}

// httpBase holds the fields shared by every HTTP-family source, mirroring
// original_source/fetch/http.py _HttpBaseSource.
type httpBase struct {
	TargetDir         string
	Transform         Transform
	Beforehand        Beforehand
	ConnectTimeout    time.Duration
	RetryCount        int
	RetryDelay        time.Duration
}

func (b *httpBase) client() *http.Client {
	timeout := b.ConnectTimeout
	if timeout == 0 {
		timeout = 100 * time.Second
	}
	return newHTTPClient(timeout)
}

func (b *httpBase) retryCount() int {
	if b.RetryCount == 0 {
		return 3
	}
	return b.RetryCount
}

func (b *httpBase) retryDelay() time.Duration {
	if b.RetryDelay == 0 {
		return 5 * time.Second
	}
	return b.RetryDelay
}

// fetchURL downloads uri into targetDir under targetFilename. A non-200
// status or a transfer error is reported via reporter.FileError and the
// attempt retried, mirroring _HttpBaseSource._fetch_files' do_fetch (which
// calls reporter.file_error itself on a bad status rather than raising) and
// its surrounding retry-then-move-on loop: a per-file failure never aborts
// the caller, it is just reported and, eventually, given up on.
func (b *httpBase) fetchURL(client *http.Client, reporter Reporter, uri, targetFilename string, overrideExisting bool) {
	retryCount := b.retryCount()
	retryDelay := b.retryDelay()

	for attempt := 1; attempt <= retryCount; attempt++ {
		var failed bool
		_, err := FetchFile(uri, func(tempPath string) (bool, error) {
			resp, err := client.Get(uri)
			if err != nil {
				failed = true
				reporter.FileError(uri, "Request failed", err.Error())
				return false, nil
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				failed = true
				body, _ := io.ReadAll(resp.Body)
				reporter.FileError(uri, fmt.Sprintf("Status code %d", resp.StatusCode), string(body))
				return false, nil
			}
			f, err := openForWrite(tempPath)
			if err != nil {
				return false, err
			}
			defer f.Close()
			buf := make([]byte, 4096)
			if _, err := io.CopyBuffer(f, resp.Body, buf); err != nil {
				failed = true
				reporter.FileError(uri, "Transfer failed", err.Error())
				return false, nil
			}
			return true, nil
		}, reporter, targetFilename, b.TargetDir, b.Transform, overrideExisting)

		if err != nil {
			reporter.FileError(uri, "fetch failed", err.Error())
			return
		}
		if !failed {
			// Either fetched successfully, or the target already existed
			// and override_existing was false — either way, done.
			return
		}
		if attempt < retryCount {
			time.Sleep(retryDelay * time.Duration(attempt))
		}
	}
}

// HttpSource fetches a fixed list of URLs, mirroring http.py HttpSource.
type HttpSource struct {
	httpBase
	URLs []string
}

// NewHttpSource builds an HttpSource; it is the seam internal/config uses to
// construct one from a !http-files node, since httpBase's fields are
// package-private.
func NewHttpSource(urls []string, targetDir string, transform Transform, beforehand Beforehand, retryCount int, retryDelaySeconds, connectTimeoutSeconds int) *HttpSource {
	return &HttpSource{
		httpBase: newHTTPBase(targetDir, transform, beforehand, retryCount, retryDelaySeconds, connectTimeoutSeconds),
		URLs:     urls,
	}
}

// newHTTPBase builds the fields shared across HTTP-family sources from
// plain config values (seconds -> time.Duration).
func newHTTPBase(targetDir string, transform Transform, beforehand Beforehand, retryCount, retryDelaySeconds, connectTimeoutSeconds int) httpBase {
	b := httpBase{
		TargetDir:  targetDir,
		Transform:  transform,
		Beforehand: beforehand,
		RetryCount: retryCount,
	}
	if retryDelaySeconds > 0 {
		b.RetryDelay = time.Duration(retryDelaySeconds) * time.Second
	}
	if connectTimeoutSeconds > 0 {
		b.ConnectTimeout = time.Duration(connectTimeoutSeconds) * time.Second
	}
	return b
}

func (s *HttpSource) Trigger(reporter Reporter) error {
	if len(s.URLs) == 0 {
		return NewRemoteFetchError("no urls configured", "")
	}
	client := s.client()
	if s.Beforehand != nil {
		if err := s.Beforehand.Run(client); err != nil {
			return err
		}
	}
	for _, u := range s.URLs {
		name, err := filenameFromURL(u)
		if err != nil {
			reporter.FileError(u, "invalid url", err.Error())
			continue
		}
		s.fetchURL(client, reporter, u, name, true)
	}
	return nil
}

// HttpListingSource fetches an HTML directory-listing page and follows every
// anchor whose text matches NamePattern, mirroring http.py HttpListingSource,
// using golang.org/x/net/html the way rclone-rclone/backend/http/http.go
// parses listing pages.
type HttpListingSource struct {
	httpBase
	URL         string
	NamePattern string
}

// NewHttpListingSource builds an HttpListingSource; see NewHttpSource.
func NewHttpListingSource(url, namePattern, targetDir string, transform Transform, beforehand Beforehand, retryCount, retryDelaySeconds, connectTimeoutSeconds int) *HttpListingSource {
	return &HttpListingSource{
		httpBase:    newHTTPBase(targetDir, transform, beforehand, retryCount, retryDelaySeconds, connectTimeoutSeconds),
		URL:         url,
		NamePattern: namePattern,
	}
}

func (s *HttpListingSource) Trigger(reporter Reporter) error {
	client := s.client()
	if s.Beforehand != nil {
		if err := s.Beforehand.Run(client); err != nil {
			return err
		}
	}

	resp, err := client.Get(s.URL)
	if err != nil {
		return NewRemoteFetchError("listing request failed", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		return NewRemoteFetchError("listing request failed", fmt.Sprintf("status %d", resp.StatusCode))
	}

	base, err := url.Parse(s.URL)
	if err != nil {
		return err
	}
	if resp.Request != nil && resp.Request.URL != nil {
		base = resp.Request.URL
	}

	links, err := parseListingAnchors(resp.Body)
	if err != nil {
		return NewRemoteFetchError("could not parse listing page", err.Error())
	}

	pattern := s.NamePattern
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid name_pattern %q: %w", pattern, err)
	}

	for _, link := range links {
		if link.text == "" {
			continue
		}
		if !strings.HasSuffix(link.href, link.text) {
			continue
		}
		if !re.MatchString(link.text) {
			continue
		}
		resolved, err := base.Parse(link.href)
		if err != nil {
			continue
		}
		s.fetchURL(client, reporter, resolved.String(), link.text, false)
	}
	return nil
}

type anchorLink struct {
	href string
	text string
}

// parseListingAnchors walks the document's <a> elements collecting
// (href, text) pairs, mirroring rclone-rclone/backend/http/http.go's parse().
func parseListingAnchors(r io.Reader) ([]anchorLink, error) {
	doc, err := xhtml.Parse(r)
	if err != nil {
		return nil, err
	}
	var links []anchorLink
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.ElementNode && n.Data == "a" {
			var href string
			for _, attr := range n.Attr {
				if attr.Key == "href" {
					href = attr.Val
				}
			}
			if href != "" {
				links = append(links, anchorLink{href: href, text: strings.TrimSpace(textContent(n))})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func textContent(n *xhtml.Node) string {
	var sb strings.Builder
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
