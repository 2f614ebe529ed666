package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Version is reported in the User-Agent header. Set with -ldflags at build time.
var Version = "development"

// Common errors. A *StatusError unwraps to one of these.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrClientError  = errors.New("http: client error")
	ErrServerError  = errors.New("http: server error")
	ErrUnexpected   = errors.New("http: unexpected status")
)

// StatusError is returned for any non-2xx final response.
type StatusError struct {
	URL    string
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: %s: %s", e.URL, e.Status)
}

// Unwrap maps the status code onto the package's sentinel errors.
func (e *StatusError) Unwrap() error {
	switch {
	case e.Code == http.StatusNotFound:
		return ErrNotFound
	case e.Code == http.StatusForbidden:
		return ErrForbidden
	case e.Code == http.StatusUnauthorized:
		return ErrUnauthorized
	case e.Code >= 400 && e.Code < 500:
		return ErrClientError
	case e.Code >= 500:
		return ErrServerError
	default:
		return ErrUnexpected
	}
}

// ClientError reports whether the status is in the 4xx class.
func (e *StatusError) ClientError() bool {
	return e.Code >= 400 && e.Code < 500
}

// Retryable reports whether a retry may succeed. 4xx responses never do.
func (e *StatusError) Retryable() bool {
	return !e.ClientError()
}

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout bounds a whole request including reading the body.
	// Default: 15m
	Timeout time.Duration

	// ConnectTimeout bounds establishing a connection.
	// Default: 30s
	ConnectTimeout time.Duration

	// UserAgent is sent with every request.
	// Default: UserAgent()
	UserAgent string

	// RequestsPerSecond limits the request rate. Zero means unlimited.
	RequestsPerSecond float64
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             15 * time.Minute,
		ConnectTimeout:      30 * time.Second,
		UserAgent:           UserAgent(),
	}
}

// UserAgent returns the default User-Agent string.
func UserAgent() string {
	return "mrt-downloader/" + Version + " https://github.com/ties/mrt-downloader"
}

// FileInfo contains metadata about a remote file.
type FileInfo struct {
	// Size is -1 when the server did not send Content-Length.
	Size         int64
	LastModified time.Time
	ContentType  string
}

// HasChangeMarkers reports whether both size and modification time are known.
func (i *FileInfo) HasChangeMarkers() bool {
	return i.Size >= 0 && !i.LastModified.IsZero()
}

// Response is a successful GET response. The caller must close Body.
type Response struct {
	Body          io.ReadCloser
	ContentLength int64
	LastModified  time.Time
}

// Client issues the GET and HEAD requests used for listings and archives.
// It does not retry; wrap calls with the retry package.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = def.ConnectTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	dialer := &net.Dialer{
		Timeout:   opts.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: opts.ConnectTimeout,
		MaxIdleConnsPerHost: opts.MaxIdleConnsPerHost,
		MaxIdleConns:        opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:     90 * time.Second,
		DisableCompression:  true, // archives are already compressed
	}

	c := &Client{
		client: &http.Client{
			Transport: transport,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
	if opts.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}
	return c
}

// Head performs a HEAD request to get file metadata.
func (c *Client) Head(ctx context.Context, url string) (*FileInfo, error) {
	resp, err := c.do(ctx, http.MethodHead, url)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()

	info := &FileInfo{
		Size:         resp.ContentLength,
		LastModified: lastModified(resp.Header),
		ContentType:  resp.Header.Get("Content-Type"),
	}
	return info, nil
}

// Get performs a GET request and returns the open body.
func (c *Client) Get(ctx context.Context, url string) (*Response, error) {
	resp, err := c.do(ctx, http.MethodGet, url)
	if err != nil {
		return nil, err
	}

	return &Response{
		Body:          resp.Body,
		ContentLength: resp.ContentLength,
		LastModified:  lastModified(resp.Header),
	}, nil
}

// GetBytes performs a GET request and reads the whole body.
func (c *Client) GetBytes(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", url, err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, url string) (*http.Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}

	if err := checkStatusCode(url, resp); err != nil {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// checkStatusCode returns a *StatusError for non-success status codes.
func checkStatusCode(url string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return &StatusError{URL: url, Code: resp.StatusCode, Status: resp.Status}
}

func lastModified(h http.Header) time.Time {
	lm := h.Get("Last-Modified")
	if lm == "" {
		return time.Time{}
	}
	t, err := http.ParseTime(lm)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
