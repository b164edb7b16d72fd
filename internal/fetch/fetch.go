// internal/fetch/fetch.go
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"
)

var (
	// ErrIO covers local filesystem failures.
	ErrIO = errors.New("fetch: i/o error")
	// ErrNetwork covers transport failures and non-2xx responses.
	ErrNetwork = errors.New("fetch: network error")
	// ErrURL covers malformed or unusable URLs.
	ErrURL = errors.New("fetch: malformed url")
)

// fallbackName is used when a URL ends with a slash.
const fallbackName = "download"

// Client streams remote datasets into a local directory.
type Client struct {
	http   *http.Client
	logger *slog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

func New(opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 30 * time.Minute},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch downloads rawURL into dir, naming the file after the URL's last path
// segment. It returns the destination path and the number of bytes written.
// When the destination already exists nothing is fetched and zero bytes are
// reported.
func (c *Client) Fetch(ctx context.Context, rawURL, dir string) (string, int64, error) {
	name, err := FilenameFromURL(rawURL)
	if err != nil {
		return "", 0, err
	}
	return c.FetchAs(ctx, rawURL, dir, name)
}

// FetchAs is Fetch with an explicit destination file name.
func (c *Client) FetchAs(ctx context.Context, rawURL, dir, name string) (string, int64, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return "", 0, err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("%w: create %s: %w", ErrIO, dir, err)
	}

	dst := filepath.Join(dir, filepath.Base(name))
	if _, err := os.Stat(dst); err == nil {
		c.logger.Info("fetch skipped, file present", "url", rawURL, "path", dst)
		return dst, 0, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", 0, fmt.Errorf("%w: stat %s: %w", ErrIO, dst, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", 0, fmt.Errorf("%w: build request for %s: %w", ErrURL, rawURL, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("%w: get %s: %w", ErrNetwork, rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", 0, fmt.Errorf("%w: get %s: unexpected status %s", ErrNetwork, rawURL, resp.Status)
	}

	// Stream into a temp file next to the destination so a partial download
	// never shadows a later retry.
	temp, err := os.CreateTemp(dir, ".fetch-*")
	if err != nil {
		return "", 0, fmt.Errorf("%w: create temp file: %w", ErrIO, err)
	}
	written, err := io.Copy(temp, resp.Body)
	if err != nil {
		temp.Close()
		os.Remove(temp.Name())
		if ctx.Err() != nil {
			return "", 0, fmt.Errorf("%w: read %s: %w", ErrNetwork, rawURL, ctx.Err())
		}
		return "", 0, fmt.Errorf("%w: copy %s to disk: %w", ErrNetwork, rawURL, err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", 0, fmt.Errorf("%w: close temp file: %w", ErrIO, err)
	}
	if err := os.Rename(temp.Name(), dst); err != nil {
		os.Remove(temp.Name())
		return "", 0, fmt.Errorf("%w: move to %s: %w", ErrIO, dst, err)
	}

	c.logger.Info("fetched", "url", rawURL, "path", dst, "bytes", written)
	return dst, written, nil
}

// FilenameFromURL returns the last path segment of rawURL.
func FilenameFromURL(rawURL string) (string, error) {
	u, err := parseURL(rawURL)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" || u.Path[len(u.Path)-1] == '/' {
		return fallbackName, nil
	}
	return path.Base(u.Path), nil
}

func parseURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrURL, rawURL, err)
	}
	if u.Opaque != "" || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %s: not an absolute http url", ErrURL, rawURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %s: unsupported scheme %q", ErrURL, rawURL, u.Scheme)
	}
	return u, nil
}
