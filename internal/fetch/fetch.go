// Package fetch downloads upstream rule documents to local files.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackszb/sukka-surge/internal/metrics"
	"github.com/jackszb/sukka-surge/internal/safefile"
)

// StatusError is returned for a non-2xx response.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string // first 4KB of the response body, trimmed
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("GET %s: http status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("GET %s: http status %d: %s", e.URL, e.StatusCode, e.Body)
}

// Download describes one persisted document.
type Download struct {
	URL        string
	Path       string
	StatusCode int
	Bytes      int64
	Duration   time.Duration
}

// Fetcher performs one GET per URL and stores the body under Dir, named by
// the URL's last path segment. It never retries.
type Fetcher struct {
	client *http.Client
	dir    string
	job    string
	now    func() time.Time
}

// New creates a Fetcher writing into dir. If client is nil,
// http.DefaultClient is used; no timeout is imposed beyond the client's own.
func New(client *http.Client, dir, job string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if dir == "" {
		dir = "."
	}
	return &Fetcher{client: client, dir: dir, job: job, now: time.Now}
}

// FileName returns the local file name for a source URL: the last segment
// of its path. URLs whose path ends in '/' or is empty have no usable name.
func FileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return "", fmt.Errorf("url %q has no file name in its path", rawURL)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == ".." {
		return "", fmt.Errorf("url %q has no file name in its path", rawURL)
	}
	return name, nil
}

// Fetch downloads rawURL and writes the body to the derived local path.
//
// Errors:
//   - *StatusError for any non-2xx response
//   - transport, read and write errors as returned by the client or filesystem
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (Download, error) {
	name, err := FileName(rawURL)
	if err != nil {
		return Download{}, err
	}
	d := Download{URL: rawURL, Path: filepath.Join(f.dir, name)}

	start := f.now()
	reqDur, respDur := time.Duration(-1), time.Duration(-1)
	size := int64(-1)
	defer func() {
		metrics.RecordHTTP(f.job, d.StatusCode, err, reqDur, respDur, size)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return d, fmt.Errorf("new request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return d, fmt.Errorf("GET %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	reqDur = f.now().Sub(start)
	d.StatusCode = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		size = int64(len(body))
		respDur = f.now().Sub(start)
		err = &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		return d, err
	}

	n, err := safefile.Write(d.Path, resp.Body)
	size = n
	respDur = f.now().Sub(start)
	if err != nil {
		return d, fmt.Errorf("save %s: %w", d.Path, err)
	}

	d.Bytes = n
	d.Duration = respDur
	return d, nil
}
