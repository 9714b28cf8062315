package artifact

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ProgressFunc reports the bytes downloaded so far and the expected total
// (-1 when the server did not announce a length).
type ProgressFunc func(name string, downloaded, total int64)

// HTTPClient is the subset of *http.Client the cache needs.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchError reports a download that failed at the transport level or
// returned a non-200 status.
type FetchError struct {
	URL    string
	Status int // 0 for transport failures
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("download %s: unexpected status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Cache downloads artifacts into a directory, once.
type Cache struct {
	dir        string
	httpClient HTTPClient
	progress   ProgressFunc
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithHTTPClient sets the HTTP client used for downloads.
func WithHTTPClient(client HTTPClient) Option {
	return func(c *Cache) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithProgressFunc sets a progress callback.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(c *Cache) {
		c.progress = fn
	}
}

// WithBackOff sets the retry schedule for transient failures (transport
// errors and 5xx responses).
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Cache) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache returns a cache rooted at dir.
func NewCache(dir string, opts ...Option) *Cache {
	c := &Cache{
		dir:        dir,
		httpClient: http.DefaultClient,
		newBackOff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir is the cache directory.
func (c *Cache) Dir() string { return c.dir }

// Path returns the absolute cache location of an artifact.
func (c *Cache) Path(a Artifact) (string, error) {
	dir, err := filepath.Abs(c.dir)
	if err != nil {
		return "", fmt.Errorf("artifact: resolve cache dir: %w", err)
	}
	return filepath.Join(dir, a.Name), nil
}

// Cached reports whether the artifact is already in the cache.
func (c *Cache) Cached(a Artifact) bool {
	p, err := c.Path(a)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Fetch returns the absolute path of the artifact, downloading it first
// when it is not cached. A partial download never appears under the
// final name.
func (c *Cache) Fetch(ctx context.Context, a Artifact) (string, error) {
	finalPath, err := c.Path(a)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return "", fmt.Errorf("artifact: create dir: %w", err)
	}
	if c.Cached(a) {
		c.logger.Info("using cached download", "file", finalPath)
		return finalPath, nil
	}

	c.logger.Info("downloading", "url", a.URL, "file", finalPath)
	op := func() error {
		return c.download(ctx, a, finalPath)
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Warn("download failed, retrying", "url", a.URL, "error", err, "wait", wait)
	}
	if err := backoff.RetryNotify(op, backoff.WithContext(c.newBackOff(), ctx), notify); err != nil {
		return "", err
	}
	return finalPath, nil
}

func (c *Cache) download(ctx context.Context, a Artifact, finalPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return backoff.Permanent(&FetchError{URL: a.URL, Err: err})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(&FetchError{URL: a.URL, Err: ctx.Err()})
		}
		return &FetchError{URL: a.URL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := &FetchError{URL: a.URL, Status: resp.StatusCode}
		if resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	tempFile, err := os.CreateTemp(filepath.Dir(finalPath), "download-*.tmp")
	if err != nil {
		return backoff.Permanent(fmt.Errorf("artifact: temp file: %w", err))
	}
	tempPath := tempFile.Name()
	defer func() {
		tempFile.Close()
		os.Remove(tempPath)
	}()

	var body io.Reader = resp.Body
	if c.progress != nil {
		body = &progressReader{r: resp.Body, name: a.Name, total: resp.ContentLength, report: c.progress}
	}
	if _, err := io.Copy(tempFile, body); err != nil {
		return &FetchError{URL: a.URL, Err: err}
	}
	if err := tempFile.Close(); err != nil {
		return backoff.Permanent(fmt.Errorf("artifact: close file: %w", err))
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		return backoff.Permanent(fmt.Errorf("artifact: finalize file: %w", err))
	}
	return nil
}

type progressReader struct {
	r      io.Reader
	name   string
	total  int64
	read   int64
	report ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		p.report(p.name, p.read, p.total)
	}
	return n, err
}
