// Package hub downloads model snapshots from a Hugging Face compatible hub
// into the shared huggingface_hub cache layout.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultEndpoint   = "https://huggingface.co"
	DefaultRevision   = "main"
	DefaultMaxRetries = 3
	DefaultRetryDelay = 2 * time.Second
	DefaultParallel   = 4

	EnvToken    = "HF_TOKEN"
	EnvEndpoint = "HF_ENDPOINT"

	userAgent = "zimage/1.0"
)

// Sibling is one file of a model repository.
type Sibling struct {
	Filename string   `json:"rfilename"`
	Size     int64    `json:"size"`
	LFS      *LFSInfo `json:"lfs,omitempty"`
}

// LFSInfo carries the checksum of files stored in LFS.
type LFSInfo struct {
	SHA256 string `json:"sha256"`
	Size   int64  `json:"size"`
}

// ModelInfo is the revision listing returned by the hub API.
type ModelInfo struct {
	ID       string    `json:"id"`
	SHA      string    `json:"sha"`
	Private  bool      `json:"private"`
	Siblings []Sibling `json:"siblings"`
}

// TotalSize sums the sizes of all files.
func (m *ModelInfo) TotalSize() int64 {
	var n int64
	for _, s := range m.Siblings {
		n += s.Size
	}
	return n
}

// Client talks to the hub API and downloads files into the cache.
type Client struct {
	http       *http.Client
	endpoint   string
	token      string
	cacheDir   string
	maxRetries int
	retryDelay time.Duration
	parallel   int
	onProgress func(Progress)
	logger     *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithEndpoint(endpoint string) Option {
	return func(c *Client) { c.endpoint = strings.TrimSuffix(endpoint, "/") }
}

func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

func WithCacheDir(dir string) Option {
	return func(c *Client) { c.cacheDir = dir }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithRetries sets the attempts per file and the first backoff delay, which
// doubles after every failure.
func WithRetries(max int, delay time.Duration) Option {
	return func(c *Client) {
		c.maxRetries = max
		c.retryDelay = delay
	}
}

// WithParallel bounds concurrent file downloads.
func WithParallel(n int) Option {
	return func(c *Client) { c.parallel = n }
}

// WithProgress receives aggregate progress for snapshot downloads.
func WithProgress(fn func(Progress)) Option {
	return func(c *Client) { c.onProgress = fn }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client configured from HF_ENDPOINT and HF_TOKEN, then
// opts. The default transport honors the proxy environment variables.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 60 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		endpoint:   DefaultEndpoint,
		cacheDir:   DefaultCacheDir(),
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		parallel:   DefaultParallel,
		logger:     zap.NewNop(),
	}
	if ep := os.Getenv(EnvEndpoint); ep != "" {
		c.endpoint = strings.TrimSuffix(ep, "/")
	}
	c.token = os.Getenv(EnvToken)
	for _, opt := range opts {
		opt(c)
	}
	if c.maxRetries < 1 {
		c.maxRetries = 1
	}
	if c.parallel < 1 {
		c.parallel = 1
	}
	return c
}

// CacheDir returns the cache root.
func (c *Client) CacheDir() string { return c.cacheDir }

// Endpoint returns the hub base URL.
func (c *Client) Endpoint() string { return c.endpoint }

// ModelInfo lists the files of modelID at revision, with sizes and LFS
// checksums.
func (c *Client) ModelInfo(ctx context.Context, modelID, revision string) (*ModelInfo, error) {
	if err := ValidateModelID(modelID); err != nil {
		return nil, err
	}
	if revision == "" {
		revision = DefaultRevision
	}

	u := fmt.Sprintf("%s/api/models/%s/revision/%s?blobs=true",
		c.endpoint, modelID, url.PathEscape(revision))

	var info *ModelInfo
	err := c.retry(ctx, "model info", func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		c.setHeaders(req)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("hub: request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return statusError(u, resp)
		}

		var mi ModelInfo
		if err := json.NewDecoder(resp.Body).Decode(&mi); err != nil {
			return fmt.Errorf("hub: decode model info: %w", err)
		}
		info = &mi
		return nil
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

// FileURL is the download URL of one repository file.
func (c *Client) FileURL(modelID, revision, filename string) string {
	parts := strings.Split(filename, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/%s/resolve/%s/%s",
		c.endpoint, modelID, url.PathEscape(revision), strings.Join(parts, "/"))
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// retry runs fn until it succeeds, fails permanently, or attempts run out.
// The delay doubles after each failure.
func (c *Client) retry(ctx context.Context, what string, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if attempt > 1 {
			delay := c.retryDelay * time.Duration(1<<(attempt-2))
			c.logger.Warn("retrying",
				zap.String("operation", what),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		if !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, c.maxRetries, lastErr)
}

func statusError(u string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{URL: u, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

// ValidateModelID checks the "owner/name" form.
func ValidateModelID(modelID string) error {
	parts := strings.Split(modelID, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("%w: %q, expected owner/name", ErrInvalidModelID, modelID)
	}
	if strings.Contains(modelID, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidModelID, modelID)
	}
	return nil
}

// IsNotCached reports whether err means the model has not been pulled.
func IsNotCached(err error) bool {
	return errors.Is(err, ErrNotCached)
}
